package stack

import (
	"errors"
	"fmt"
	"testing"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{&ConflictError{Patch: "p"}, KindConflict},
		{fmt.Errorf("push: %w", &ConflictError{Patch: "p", Published: true}), KindConflict},
		{&ConcurrentModificationError{Ref: "refs/stacks/main", Err: repo.ErrRefCASMismatch}, KindConcurrency},
		{fmt.Errorf("x: %w", repo.ErrRefCASMismatch), KindConcurrency},
		{&DecodeError{Err: errors.New("bad")}, KindStore},
		{unknownPatch("p"), KindUser},
		{patch.Validate("a..b"), KindUser},
		{fmt.Errorf("%w: p", ErrPatchExists), KindUser},
		{fmt.Errorf("rev: %w", repo.ErrUnknownRevision), KindUser},
		{fmt.Errorf("branch: %w", ErrNotInitialized), KindPrecondition},
		{ErrHeadTopMismatch, KindPrecondition},
		{ErrProtected, KindPrecondition},
		{fmt.Errorf("checkout: %w", repo.ErrLocalChanges), KindPrecondition},
		{repo.ErrDirtyWorktree, KindPrecondition},
		{errors.New("disk on fire"), KindStore},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Patch: "p2", Paths: []string{"a.txt", "b.txt"}}
	if got := err.Error(); got != `merge conflicts pushing patch "p2": a.txt, b.txt (transaction aborted)` {
		t.Errorf("Error() = %q", got)
	}
	err.Published = true
	if got := err.Error(); got != `merge conflicts pushing patch "p2": a.txt, b.txt` {
		t.Errorf("Error() = %q", got)
	}
}
