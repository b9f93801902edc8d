package stack

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/object"
)

// upgrade rewrites a legacy state for branch in the current format. It is a
// no-op when the branch has no stack or the stack is already current.
func upgrade(store Store, branch string, log *zap.Logger, signer object.CommitSigner) error {
	ref := StateRefName(branch)
	current, err := store.ResolveRef(ref)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("upgrade stack: %w", err)
	}
	tree, err := store.CommitTree(current)
	if err != nil {
		return &DecodeError{Object: current, Err: err}
	}
	state, legacy, err := fromTree(store, tree)
	if err != nil {
		return err
	}
	if !legacy {
		return nil
	}
	// The legacy commit stays in the log chain; Log can still decode it.
	state.Prev = current
	if _, err := state.Commit(store, CommitOptions{
		Ref:         ref,
		ExpectedOld: current,
		Message:     fmt.Sprintf("upgrade to version %d", FormatVersion),
		Signer:      signer,
	}); err != nil {
		return fmt.Errorf("upgrade stack: %w", err)
	}
	log.Info("upgraded stack format",
		zap.String("branch", branch),
		zap.Int("from", legacyVersion),
		zap.Int("to", FormatVersion))
	return nil
}
