package repo

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// ErrUnknownRevision is returned when RevParse cannot resolve an expression.
var ErrUnknownRevision = errors.New("unknown revision")

// RevParse resolves a revision expression to a commit hash. Supported
// forms: HEAD, branch names, full ref names, full or abbreviated (>= 4 hex)
// object ids, each optionally followed by any sequence of "^", "^N" and
// "~N" suffixes.
func (r *Repo) RevParse(expr string) (object.Hash, error) {
	expr = strings.TrimSpace(expr)
	cut := strings.IndexAny(expr, "^~")
	base, ops := expr, ""
	if cut >= 0 {
		base, ops = expr[:cut], expr[cut:]
	}
	if base == "" {
		return "", fmt.Errorf("rev-parse %q: %w", expr, ErrUnknownRevision)
	}

	h, err := r.resolveRevBase(base)
	if err != nil {
		return "", fmt.Errorf("rev-parse %q: %w", expr, err)
	}

	for ops != "" {
		op := ops[0]
		ops = ops[1:]
		digits := 0
		for digits < len(ops) && ops[digits] >= '0' && ops[digits] <= '9' {
			digits++
		}
		n := 1
		if digits > 0 {
			n, err = strconv.Atoi(ops[:digits])
			if err != nil {
				return "", fmt.Errorf("rev-parse %q: %w", expr, err)
			}
			ops = ops[digits:]
		}
		if op == '^' {
			h, err = r.nthParent(h, n)
		} else {
			for i := 0; i < n && err == nil; i++ {
				h, err = r.nthParent(h, 1)
			}
		}
		if err != nil {
			return "", fmt.Errorf("rev-parse %q: %w", expr, err)
		}
		if len(ops) > 0 && ops[0] != '^' && ops[0] != '~' {
			return "", fmt.Errorf("rev-parse %q: %w", expr, ErrUnknownRevision)
		}
	}
	return h, nil
}

func (r *Repo) resolveRevBase(base string) (object.Hash, error) {
	candidates := []string{base}
	if base != "HEAD" && !strings.HasPrefix(base, "refs/") {
		candidates = []string{"refs/heads/" + base, "refs/" + base}
	}
	for _, name := range candidates {
		if CheckRefName(name) != nil {
			continue
		}
		h, err := r.ResolveRef(name)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	if object.IsHashPrefix(base) {
		h, err := r.Store.ResolvePrefix(base)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, object.ErrAmbiguousPrefix) {
			return "", err
		}
	}
	return "", ErrUnknownRevision
}

// nthParent returns parent n (1-based) of h; n == 0 returns h itself.
func (r *Repo) nthParent(h object.Hash, n int) (object.Hash, error) {
	if n == 0 {
		return h, nil
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h, err)
	}
	if n > len(c.Parents) {
		return "", fmt.Errorf("commit %s has no parent %d: %w", h.Short(), n, ErrUnknownRevision)
	}
	return c.Parents[n-1], nil
}
