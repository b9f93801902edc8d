package stack

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// execute publishes the staged state:
//
//  1. validate the lists and the applied commit chain
//  2. refuse changes to a protected stack
//  3. on a conflict under ConflictAbort, or with no worktree to hold the
//     markers, stop with nothing published
//  4. check the new top out into index and worktree, with conflict
//     markers when halted
//  5. move the branch ref, then the state ref, each with a
//     compare-and-swap; a lost state swap rolls the branch back
//  6. reconcile patch refs and print progress
func (t *Transaction) execute(message string) (*Stack, error) {
	if t.state != StateBuilding {
		return nil, fmt.Errorf("execute: transaction is %v", t.state)
	}
	t.state = StateValidating
	s := t.stack
	log := t.b.log

	next := &StackState{
		Prev:      s.stateCommit,
		Head:      t.top,
		Applied:   t.applied,
		Unapplied: t.unapplied,
		Hidden:    t.hidden,
		Patches:   t.patches,
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if err := t.checkAppliedChain(); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if !next.sameContent(s.state) {
		protected, err := s.IsProtected()
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		if protected {
			return nil, fmt.Errorf("branch %q: %w", s.branchName, ErrProtected)
		}
	}

	if t.conflict != nil && (t.b.conflictPolicy == ConflictAbort || !t.b.useIndexAndWorktree) {
		t.state = StateConflicted
		conflictColor.Fprintf(t.b.output, "! %s (conflict)\n", t.conflict.Patch)
		log.Info("transaction aborted on conflict", zap.String("patch", string(t.conflict.Patch)))
		return nil, &ConflictError{Patch: t.conflict.Patch, Paths: t.conflict.Paths}
	}

	oldHead := s.branchHead
	newHead := t.top
	var fromTree, checkedOut object.Hash
	restoreWorktree := func() {
		if !t.b.useIndexAndWorktree {
			return
		}
		if err := t.store.CheckoutTree(checkedOut, fromTree, repo.CheckoutOptions{Force: true}); err != nil {
			log.Error("restore worktree after failed publish", zap.Error(err))
		}
	}
	if t.b.useIndexAndWorktree {
		var err error
		if fromTree, err = t.store.CommitTree(oldHead); err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		if checkedOut, err = t.store.CommitTree(newHead); err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		if t.conflict != nil {
			checkedOut = t.conflictTree
		}
		if t.b.discardChanges {
			err = t.store.ResetHard(checkedOut)
		} else {
			err = t.store.CheckoutTree(fromTree, checkedOut, repo.CheckoutOptions{})
		}
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		if t.conflict != nil {
			if err := t.store.WriteConflicts(t.conflicts); err != nil {
				restoreWorktree()
				return nil, fmt.Errorf("execute: %w", err)
			}
		}
	}

	reason := reflogReason(message)
	branchRef := s.BranchRef()
	if newHead != oldHead {
		if err := t.store.UpdateRefCAS(branchRef, newHead, oldHead, reason); err != nil {
			restoreWorktree()
			if errors.Is(err, repo.ErrRefCASMismatch) {
				log.Warn("lost branch ref race", zap.String("ref", branchRef))
				return nil, &ConcurrentModificationError{Ref: branchRef, Err: err}
			}
			return nil, fmt.Errorf("execute: %w", err)
		}
	}
	id, err := next.Commit(t.store, CommitOptions{
		Ref:         s.stateRef,
		ExpectedOld: s.stateCommit,
		Message:     message,
		Signer:      t.b.signer,
	})
	if err != nil {
		if newHead != oldHead {
			if rbErr := t.store.UpdateRefCAS(branchRef, oldHead, newHead, "rollback: "+reason); rbErr != nil {
				log.Error("roll back branch ref", zap.String("ref", branchRef), zap.Error(rbErr))
			}
		}
		restoreWorktree()
		var cm *ConcurrentModificationError
		if errors.As(err, &cm) {
			log.Warn("lost stack state race", zap.String("ref", s.stateRef))
		}
		return nil, err
	}
	log.Debug("published stack state",
		zap.String("state", id.Short()),
		zap.String("prev", s.stateCommit.Short()),
		zap.String("head", newHead.Short()))

	if _, err := reconcilePatchRefs(t.store, s.branchName, next, log); err != nil {
		return nil, err
	}

	ns, err := s.reload(next, id, newHead)
	if err != nil {
		return nil, err
	}
	t.report(t.b.output, next.Applied)
	if t.conflict != nil {
		t.state = StateConflicted
		t.conflict.Published = true
		return ns, t.conflict
	}
	t.state = StateCommitted
	return ns, nil
}

// checkAppliedChain verifies each applied commit sits on the previous one,
// the first on the base.
func (t *Transaction) checkAppliedChain() error {
	parent := t.base
	for _, n := range t.applied {
		commit := t.patches[n].Commit
		c, err := t.store.ReadCommit(commit)
		if err != nil {
			return err
		}
		if c.Parent() != parent {
			return fmt.Errorf("%w: applied patch %q does not sit on %s", ErrInvalidState, n, parent.Short())
		}
		parent = commit
	}
	return nil
}

var (
	pushColor     = color.New(color.FgGreen)
	topColor      = color.New(color.FgGreen, color.Bold)
	popColor      = color.New(color.FgYellow)
	deleteColor   = color.New(color.FgRed)
	conflictColor = color.New(color.FgRed, color.Bold)
	infoColor     = color.New(color.FgCyan)
)

// report prints one line per recorded event. The push that produced the
// final top is marked with '>' instead of '+'.
func (t *Transaction) report(w io.Writer, applied []patch.Name) {
	var top patch.Name
	if len(applied) > 0 {
		top = applied[len(applied)-1]
	}
	lastTopPush := -1
	for i, ev := range t.events {
		if (ev.kind == evPush || ev.kind == evSquash) && ev.name == top {
			lastTopPush = i
		}
	}
	suffix := func(detail string) string {
		if detail == "" {
			return ""
		}
		return " (" + detail + ")"
	}
	for i, ev := range t.events {
		switch ev.kind {
		case evPush:
			if i == lastTopPush {
				topColor.Fprintf(w, "> %s%s\n", ev.name, suffix(ev.detail))
			} else {
				pushColor.Fprintf(w, "+ %s%s\n", ev.name, suffix(ev.detail))
			}
		case evSquash:
			topColor.Fprintf(w, "> %s (squashed %s)\n", ev.name, ev.detail)
		case evPop:
			popColor.Fprintf(w, "- %s\n", ev.name)
		case evNew:
			infoColor.Fprintf(w, "+ %s (new)\n", ev.name)
		case evDelete:
			deleteColor.Fprintf(w, "x %s\n", ev.name)
		case evHide:
			infoColor.Fprintf(w, "h %s\n", ev.name)
		case evUnhide:
			infoColor.Fprintf(w, "u %s\n", ev.name)
		case evRename:
			infoColor.Fprintf(w, "r %s -> %s\n", ev.detail, ev.name)
		case evUpdate:
			infoColor.Fprintf(w, "~ %s\n", ev.name)
		case evConflict:
			conflictColor.Fprintf(w, "! %s (conflict)\n", ev.name)
		}
	}
}
