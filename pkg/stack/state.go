package stack

import (
	"fmt"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
)

// PatchState is one entry of the patch queue.
type PatchState struct {
	Commit object.Hash
}

// IsEmpty reports whether the patch commit changes nothing relative to its
// parent.
func (p PatchState) IsEmpty(store Store) (bool, error) {
	c, err := store.ReadCommit(p.Commit)
	if err != nil {
		return false, err
	}
	parent := c.Parent()
	if parent == "" {
		files, err := store.TreeFiles(c.TreeHash)
		return len(files) == 0, err
	}
	parentTree, err := store.CommitTree(parent)
	if err != nil {
		return false, err
	}
	return parentTree == c.TreeHash, nil
}

// StackState is one snapshot of a stack. Values are treated as immutable
// once published; mutating helpers return copies.
type StackState struct {
	// Prev is the state commit this snapshot replaced, "" for the first.
	Prev object.Hash
	// Head is the branch tip at snapshot time.
	Head      object.Hash
	Applied   []patch.Name
	Unapplied []patch.Name
	Hidden    []patch.Name
	Patches   map[patch.Name]PatchState
}

// NewState returns the empty snapshot for a branch whose tip is head.
func NewState(head object.Hash) *StackState {
	return &StackState{
		Head:    head,
		Patches: make(map[patch.Name]PatchState),
	}
}

// Validate checks the list and map invariants: every listed name is
// valid, listed once across all three lists, and has a patch entry, and
// every entry is listed. No name may be a slash prefix of another, since
// their references could not coexist.
func (s *StackState) Validate() error {
	if s.Head == "" {
		return fmt.Errorf("%w: no head", ErrInvalidState)
	}
	seen := make(map[patch.Name]string, len(s.Patches))
	check := func(list string, names []patch.Name) error {
		for _, n := range names {
			if err := patch.Validate(string(n)); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidState, err)
			}
			if other, dup := seen[n]; dup {
				return fmt.Errorf("%w: patch %q listed in both %s and %s", ErrInvalidState, n, other, list)
			}
			seen[n] = list
			ps, ok := s.Patches[n]
			if !ok {
				return fmt.Errorf("%w: %s patch %q has no entry", ErrInvalidState, list, n)
			}
			if ps.Commit == "" {
				return fmt.Errorf("%w: patch %q has no commit", ErrInvalidState, n)
			}
		}
		return nil
	}
	if err := check("applied", s.Applied); err != nil {
		return err
	}
	if err := check("unapplied", s.Unapplied); err != nil {
		return err
	}
	if err := check("hidden", s.Hidden); err != nil {
		return err
	}
	for n := range seen {
		for _, p := range n.Parents() {
			if _, ok := seen[p]; ok {
				return fmt.Errorf("%w: patch %q nests under patch %q", ErrInvalidState, n, p)
			}
		}
	}
	if len(seen) != len(s.Patches) {
		for n := range s.Patches {
			if _, ok := seen[n]; !ok {
				return fmt.Errorf("%w: patch %q is in no list", ErrInvalidState, n)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *StackState) Clone() *StackState {
	c := &StackState{
		Prev:      s.Prev,
		Head:      s.Head,
		Applied:   append([]patch.Name(nil), s.Applied...),
		Unapplied: append([]patch.Name(nil), s.Unapplied...),
		Hidden:    append([]patch.Name(nil), s.Hidden...),
		Patches:   make(map[patch.Name]PatchState, len(s.Patches)),
	}
	for n, p := range s.Patches {
		c.Patches[n] = p
	}
	return c
}

// AdvanceHead returns a copy with Head replaced and Prev set. It is used
// when only the branch tip moved.
func (s *StackState) AdvanceHead(newHead, prevStateCommit object.Hash) *StackState {
	c := s.Clone()
	c.Head = newHead
	c.Prev = prevStateCommit
	return c
}

// All returns applied, unapplied and hidden names in that order.
func (s *StackState) All() []patch.Name {
	all := make([]patch.Name, 0, len(s.Applied)+len(s.Unapplied)+len(s.Hidden))
	all = append(all, s.Applied...)
	all = append(all, s.Unapplied...)
	return append(all, s.Hidden...)
}

// Has reports whether name is a patch of this snapshot.
func (s *StackState) Has(name patch.Name) bool {
	_, ok := s.Patches[name]
	return ok
}

// Top is the commit of the last applied patch, or Head when none is
// applied.
func (s *StackState) Top() object.Hash {
	if n := len(s.Applied); n > 0 {
		return s.Patches[s.Applied[n-1]].Commit
	}
	return s.Head
}

// sameContent reports whether two snapshots hold the same lists, patches
// and head, ignoring Prev.
func (s *StackState) sameContent(o *StackState) bool {
	if s.Head != o.Head || !equalNames(s.Applied, o.Applied) ||
		!equalNames(s.Unapplied, o.Unapplied) || !equalNames(s.Hidden, o.Hidden) ||
		len(s.Patches) != len(o.Patches) {
		return false
	}
	for n, p := range s.Patches {
		if o.Patches[n] != p {
			return false
		}
	}
	return true
}

func equalNames(a, b []patch.Name) bool {
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
