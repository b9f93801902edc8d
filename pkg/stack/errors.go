package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

var (
	ErrNotInitialized     = errors.New("stack not initialized")
	ErrAlreadyInitialized = errors.New("stack already initialized")
	ErrNoAppliedPatches   = errors.New("no patches applied")
	ErrHeadTopMismatch    = errors.New("branch head and stack top are not the same")
	ErrProtected          = errors.New("stack is protected")
	ErrTransactionHalted  = errors.New("transaction halted on conflict")
	ErrUnknownPatch       = errors.New("unknown patch")
	ErrPatchExists        = errors.New("patch already exists")
	ErrInvalidState       = errors.New("invalid stack state")
)

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindUser is bad input: an invalid name, an unknown patch or revision.
	KindUser
	// KindPrecondition is a state that forbids the operation before it
	// starts: uninitialized stack, dirty worktree, head/top mismatch.
	KindPrecondition
	// KindConflict is a merge that left unresolved hunks.
	KindConflict
	// KindConcurrency is a lost reference compare-and-swap.
	KindConcurrency
	// KindStore is everything else: I/O, corruption, decode failures.
	KindStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUser:
		return "user"
	case KindPrecondition:
		return "precondition"
	case KindConflict:
		return "conflict"
	case KindConcurrency:
		return "concurrency"
	case KindStore:
		return "store"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Kind classifies err.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var conflict *ConflictError
	var concurrent *ConcurrentModificationError
	var decode *DecodeError
	switch {
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &concurrent), errors.Is(err, repo.ErrRefCASMismatch):
		return KindConcurrency
	case errors.As(err, &decode):
		return KindStore
	case errors.Is(err, patch.ErrInvalidName),
		errors.Is(err, patch.ErrEmptyName),
		errors.Is(err, ErrUnknownPatch),
		errors.Is(err, ErrPatchExists),
		errors.Is(err, repo.ErrUnknownRevision),
		errors.Is(err, repo.ErrInvalidRefName):
		return KindUser
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNoAppliedPatches),
		errors.Is(err, ErrHeadTopMismatch),
		errors.Is(err, ErrProtected),
		errors.Is(err, ErrTransactionHalted),
		errors.Is(err, repo.ErrLocalChanges),
		errors.Is(err, repo.ErrDirtyWorktree),
		errors.Is(err, repo.ErrUnresolvedConflicts),
		errors.Is(err, repo.ErrDetachedHead):
		return KindPrecondition
	}
	return KindStore
}

// ConflictError reports the patch whose push left unresolved conflicts.
// Published tells whether the progress made before the conflict was
// recorded as the new stack state.
type ConflictError struct {
	Patch     patch.Name
	Paths     []string
	Published bool
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("merge conflicts pushing patch %q", e.Patch)
	if len(e.Paths) > 0 {
		msg += ": " + strings.Join(e.Paths, ", ")
	}
	if !e.Published {
		msg += " (transaction aborted)"
	}
	return msg
}

// ConcurrentModificationError is returned when a reference changed between
// loading the stack and publishing a new state.
type ConcurrentModificationError struct {
	Ref string
	Err error
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("stack was modified concurrently (%s), retry: %v", e.Ref, e.Err)
}

func (e *ConcurrentModificationError) Unwrap() error { return e.Err }

// DecodeError is returned when a stored stack state cannot be read back.
type DecodeError struct {
	Object object.Hash
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("decode stack state: %v", e.Err)
	}
	return fmt.Sprintf("decode stack state %s: %v", e.Object.Short(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func unknownPatch(name patch.Name) error {
	return fmt.Errorf("%w: %s", ErrUnknownPatch, name)
}
