package patch

import (
	"fmt"
	"strings"
)

// Range is a span of patches written "a..b". Either end may be empty,
// meaning the start or end of the list the range is applied to.
type Range struct {
	Begin Name
	End   Name
}

// ParseRange parses "name", "a..b", "a..", or "..b".
func ParseRange(s string) (Range, error) {
	begin, end, found := strings.Cut(s, "..")
	if !found {
		n, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Begin: n, End: n}, nil
	}
	var r Range
	if begin != "" {
		n, err := Parse(begin)
		if err != nil {
			return Range{}, err
		}
		r.Begin = n
	}
	if end != "" {
		n, err := Parse(end)
		if err != nil {
			return Range{}, err
		}
		r.End = n
	}
	return r, nil
}

// Select returns the sub-slice of names the range covers, inclusive at
// both ends.
func (r Range) Select(names []Name) ([]Name, error) {
	lo, hi := 0, len(names)-1
	if r.Begin != "" {
		if lo = indexOf(names, r.Begin); lo < 0 {
			return nil, fmt.Errorf("patch %q not in list", r.Begin)
		}
	}
	if r.End != "" {
		if hi = indexOf(names, r.End); hi < 0 {
			return nil, fmt.Errorf("patch %q not in list", r.End)
		}
	}
	if hi < lo {
		return nil, fmt.Errorf("empty range %s..%s", r.Begin, r.End)
	}
	return append([]Name(nil), names[lo:hi+1]...), nil
}

func indexOf(names []Name, n Name) int {
	for i, x := range names {
		if x == n {
			return i
		}
	}
	return -1
}

// Contains reports whether n is in names.
func Contains(names []Name, n Name) bool { return indexOf(names, n) >= 0 }
