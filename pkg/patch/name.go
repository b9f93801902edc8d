// Package patch holds patch identity: names, their validation, and the
// derivation of fresh names from commit messages.
package patch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLengthLimit is the name length used when stgit.namelength is unset.
const DefaultLengthLimit = 30

// ErrInvalidName is matched by every *InvalidNameError.
var ErrInvalidName = errors.New("invalid patch name")

// ErrEmptyName is returned by Make when no name can be derived and an empty
// source is not allowed.
var ErrEmptyName = errors.New("cannot derive patch name from empty text")

// Name identifies one patch within a stack.
type Name string

func (n Name) String() string { return string(n) }

// Parents returns the slash-separated prefixes of n, shortest first:
// "a/b/c" gives "a" and "a/b". A patch named like one of them would need
// a reference that is also a directory of n's reference.
func (n Name) Parents() []Name {
	var out []Name
	for i := 0; i < len(n); i++ {
		if n[i] == '/' {
			out = append(out, n[:i])
		}
	}
	return out
}

// InvalidNameError reports why a name was rejected.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid patch name %q: %s", e.Name, e.Reason)
}

func (e *InvalidNameError) Is(target error) bool { return target == ErrInvalidName }

// Validate checks that name can be used as a patch name and as the last
// component(s) of a reference.
func Validate(name string) error {
	bad := func(reason string) error { return &InvalidNameError{Name: name, Reason: reason} }
	switch {
	case name == "":
		return bad("empty")
	case strings.HasPrefix(name, "-"):
		return bad("starts with '-'")
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return bad("starts or ends with '/'")
	case strings.HasSuffix(name, "."):
		return bad("ends with '.'")
	case strings.Contains(name, ".."):
		return bad("contains '..'")
	case strings.Contains(name, "@{"):
		return bad("contains '@{'")
	case strings.Contains(name, "//"):
		return bad("contains '//'")
	case name == "@":
		return bad("is '@'")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c == 0x7f {
			return bad("contains a control character or space")
		}
		if strings.IndexByte(`~^:?*[\`, c) >= 0 {
			return bad(fmt.Sprintf("contains %q", c))
		}
	}
	if !utf8.ValidString(name) {
		return bad("not valid UTF-8")
	}
	for _, comp := range strings.Split(name, "/") {
		if strings.HasPrefix(comp, ".") {
			return bad("component starts with '.'")
		}
		if strings.HasSuffix(comp, ".lock") {
			return bad("component ends with '.lock'")
		}
	}
	return nil
}

// ValidateLength runs Validate and additionally rejects names longer than
// limit characters. A limit of zero or less disables the length check.
func ValidateLength(name string, limit int) error {
	if err := Validate(name); err != nil {
		return err
	}
	if limit > 0 && utf8.RuneCountInString(name) > limit {
		return &InvalidNameError{Name: name, Reason: fmt.Sprintf("longer than %d characters", limit)}
	}
	return nil
}

// Parse validates s and returns it as a Name.
func Parse(s string) (Name, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	return Name(s), nil
}

// Make derives a name from the first line of text: lowercased, every run of
// non-word characters collapsed to '-', trimmed and truncated to
// lengthLimit characters (0 for no limit). Blank text yields "patch" when
// allowEmpty is set and ErrEmptyName otherwise. The result is uniquified
// against disallow, shortening the stem so the "-N" suffix also fits.
func Make(text string, allowEmpty bool, lengthLimit int, disallow []Name) (Name, error) {
	subject, _, _ := strings.Cut(strings.TrimLeftFunc(text, unicode.IsSpace), "\n")
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(subject) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if lengthLimit > 0 && utf8.RuneCountInString(name) > lengthLimit {
		name = strings.TrimRight(string([]rune(name)[:lengthLimit]), "-")
	}
	if name == "" {
		if !allowEmpty {
			return "", ErrEmptyName
		}
		name = "patch"
	}
	if err := Validate(name); err != nil {
		// Letters outside ASCII can still form a valid name; anything
		// else falls back to the default.
		name = "patch"
	}
	return uniquify(Name(name), lengthLimit, nil, disallow), nil
}

// Uniquify returns n if it collides with neither taken nor disallow.
// Otherwise any trailing "-N" suffix is stripped and "-1", "-2", ... are
// tried in order until a free name is found. The result depends only on
// the inputs.
func (n Name) Uniquify(taken, disallow []Name) Name {
	return uniquify(n, 0, taken, disallow)
}

func uniquify(n Name, limit int, taken, disallow []Name) Name {
	used := make(map[Name]struct{}, len(taken)+len(disallow))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	for _, d := range disallow {
		used[d] = struct{}{}
	}
	if _, ok := used[n]; !ok {
		return n
	}
	base := string(n)
	if i := strings.LastIndexByte(base, '-'); i > 0 {
		if _, err := strconv.ParseUint(base[i+1:], 10, 64); err == nil {
			base = base[:i]
		}
	}
	for i := 1; i > 0; i++ {
		suffix := "-" + strconv.Itoa(i)
		stem := base
		if limit > 0 {
			// Keep at least one character of the stem.
			room := max(limit-len(suffix), 1)
			if r := []rune(stem); len(r) > room {
				stem = strings.TrimRight(string(r[:room]), "-")
			}
		}
		candidate := Name(stem + suffix)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
	panic("patch: name space exhausted uniquifying " + string(n))
}
