// Package diff3 implements line-based three-way merging.
//
// The merge walks the base text and pairs every base line with its
// counterpart in each side. Stretches where all three agree are stable
// and copied through; everything between two stable stretches is an
// unstable chunk, resolved by taking whichever side changed it, or by
// emitting a conflict when both did so differently.
package diff3

import (
	"bytes"
	"strings"
)

// Labels name the two sides in conflict markers.
type Labels struct {
	Ours   string
	Theirs string
}

// DefaultLabels is used when Merge is given zero Labels.
var DefaultLabels = Labels{Ours: "ours", Theirs: "theirs"}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // merged content, with conflict markers if any
	HasConflicts bool
	Conflicts    int // number of conflicting chunks
}

// Merge performs a three-way merge of ours and theirs against base.
func Merge(base, ours, theirs []byte, labels Labels) Result {
	if labels.Ours == "" {
		labels.Ours = DefaultLabels.Ours
	}
	if labels.Theirs == "" {
		labels.Theirs = DefaultLabels.Theirs
	}

	b := splitLines(base)
	o := splitLines(ours)
	t := splitLines(theirs)
	mo := matchLines(b, o)
	mt := matchLines(b, t)

	var out bytes.Buffer
	var res Result
	i, j, k := 0, 0, 0
	for i < len(b) || j < len(o) || k < len(t) {
		if i < len(b) && mo[i] == j && mt[i] == k {
			writeLines(&out, b[i:i+1])
			i, j, k = i+1, j+1, k+1
			continue
		}

		// Find the next base line anchored on both sides.
		ni, nj, nk := len(b), len(o), len(t)
		for s := i; s < len(b); s++ {
			if mo[s] >= 0 && mt[s] >= 0 {
				ni, nj, nk = s, mo[s], mt[s]
				break
			}
		}

		bc, oc, tc := b[i:ni], o[j:nj], t[k:nk]
		switch {
		case equalLines(oc, bc):
			writeLines(&out, tc)
		case equalLines(tc, bc), equalLines(oc, tc):
			writeLines(&out, oc)
		default:
			res.Conflicts++
			out.WriteString("<<<<<<< " + labels.Ours + "\n")
			writeLines(&out, oc)
			out.WriteString("=======\n")
			writeLines(&out, tc)
			out.WriteString(">>>>>>> " + labels.Theirs + "\n")
		}
		i, j, k = ni, nj, nk
	}

	res.Merged = out.Bytes()
	res.HasConflicts = res.Conflicts > 0
	return res
}

// splitLines splits s into lines. A trailing newline does not produce
// an extra empty element.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
