package stack

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
)

// maxRepairWalk bounds the first-parent walk from the branch head.
const maxRepairWalk = 10000

// RepairResult describes what Repair changed.
type RepairResult struct {
	// Adopted are new applied patches made from commits found on top of
	// the stack.
	Adopted []patch.Name
	// Unapplied are previously applied patches no longer on the branch.
	Unapplied []patch.Name
}

// Repair brings the stack back in line with a branch that was moved
// outside the stack. Applied patches still on the branch's first-parent
// history stay applied, the others become unapplied, and ordinary
// commits between the remaining top and the branch head are adopted as
// new patches named after their subjects. If a merge commit is in the
// way nothing is adopted and every patch is unapplied.
func (s *Stack) Repair() (*Stack, *RepairResult, error) {
	if !s.initialized {
		return nil, nil, fmt.Errorf("branch %q: %w", s.branchName, ErrNotInitialized)
	}
	result := &RepairResult{}
	if s.IsHeadTop() {
		return s, result, nil
	}

	var chain []*object.CommitObj
	var ids []object.Hash
	pos := make(map[object.Hash]int)
	for h := s.branchHead; h != "" && len(ids) < maxRepairWalk; {
		c, err := s.store.ReadCommit(h)
		if err != nil {
			return nil, nil, fmt.Errorf("repair: %w", err)
		}
		pos[h] = len(ids)
		ids = append(ids, h)
		chain = append(chain, c)
		h = c.Parent()
	}

	state := s.state.Clone()
	kept := 0
	for i, n := range state.Applied {
		p, ok := pos[state.Patches[n].Commit]
		if !ok || (i > 0 && p != pos[state.Patches[state.Applied[i-1]].Commit]-1) {
			break
		}
		kept = i + 1
	}

	var adopt []int
	if kept > 0 {
		for i := pos[state.Patches[state.Applied[kept-1]].Commit] - 1; i >= 0; i-- {
			if len(chain[i].Parents) > 1 {
				kept, adopt = 0, nil
				break
			}
			adopt = append(adopt, i)
		}
	}

	result.Unapplied = append(result.Unapplied, state.Applied[kept:]...)
	state.Unapplied = append(append([]patch.Name(nil), state.Applied[kept:]...), state.Unapplied...)
	state.Applied = state.Applied[:kept]

	limit := NameLengthLimit(s.store)
	for _, i := range adopt {
		name, err := patch.Make(chain[i].Message, true, limit, state.All())
		if err != nil {
			return nil, nil, fmt.Errorf("repair: %w", err)
		}
		state.Applied = append(state.Applied, name)
		state.Patches[name] = PatchState{Commit: ids[i]}
		result.Adopted = append(result.Adopted, name)
	}
	state.Head = s.branchHead
	state.Prev = s.stateCommit

	id, err := state.Commit(s.store, CommitOptions{
		Ref:         s.stateRef,
		ExpectedOld: s.stateCommit,
		Message:     "repair",
		Signer:      s.signer,
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := reconcilePatchRefs(s.store, s.branchName, state, s.log); err != nil {
		return nil, nil, err
	}
	s.log.Info("repaired stack",
		zap.Int("adopted", len(result.Adopted)),
		zap.Int("unapplied", len(result.Unapplied)))
	ns, err := s.reload(state, id, s.branchHead)
	if err != nil {
		return nil, nil, err
	}
	return ns, result, nil
}
