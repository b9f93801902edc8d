package stack

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/diff3"
	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// PushPatch pushes one unapplied patch.
func (t *Transaction) PushPatch(name patch.Name) error {
	return t.PushPatches([]patch.Name{name}, false)
}

// PushPatches pushes unapplied patches in order. A patch whose parent is
// the current top is fast-forwarded; otherwise its change is merged onto
// the top and a new commit written. A merge with conflicts records the
// conflict, leaves the patch unapplied and returns an error wrapping
// ErrTransactionHalted. With checkMerged, a patch whose change is already
// present upstream is reported as merged rather than empty.
func (t *Transaction) PushPatches(names []patch.Name, checkMerged bool) error {
	for _, n := range names {
		if err := t.checkBuilding(); err != nil {
			return err
		}
		switch {
		case !t.Has(n):
			return unknownPatch(n)
		case indexName(t.applied, n) >= 0:
			return fmt.Errorf("push %s: patch already applied", n)
		case indexName(t.hidden, n) >= 0:
			return fmt.Errorf("push %s: patch is hidden", n)
		}
		if err := t.push(n, checkMerged); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) push(name patch.Name, checkMerged bool) error {
	ps := t.patches[name]
	c, err := t.store.ReadCommit(ps.Commit)
	if err != nil {
		return fmt.Errorf("push %s: %w", name, err)
	}
	parent := c.Parent()
	var parentTree object.Hash
	if parent != "" {
		if parentTree, err = t.store.CommitTree(parent); err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
	}

	newCommit := ps.Commit
	detail := ""
	if parent == t.top {
		if c.TreeHash == parentTree {
			detail = "empty"
		}
	} else {
		topTree, err := t.store.CommitTree(t.top)
		if err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
		res, err := t.store.MergeTrees(parentTree, topTree, c.TreeHash, diff3.Labels{Ours: "current", Theirs: string(name)})
		if err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
		if !res.Clean() {
			t.conflict = &ConflictError{Patch: name, Paths: res.ConflictPaths()}
			t.conflictTree = res.Tree
			t.conflicts = res.Conflicts
			t.record(evConflict, name, "")
			t.b.log.Debug("push conflict", zap.String("patch", string(name)), zap.Strings("paths", res.ConflictPaths()))
			return fmt.Errorf("push %s: %w", name, ErrTransactionHalted)
		}
		switch {
		case res.Tree == topTree && checkMerged:
			detail = "merged"
		case res.Tree == topTree:
			detail = "empty"
		default:
			detail = "modified"
		}
		if newCommit, err = t.rewriteCommit(c, res.Tree, t.top); err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
	}

	t.unapplied = removeName(t.unapplied, name)
	t.applied = append(t.applied, name)
	t.patches[name] = PatchState{Commit: newCommit}
	t.top = newCommit
	t.record(evPush, name, detail)
	return nil
}

// PopPatches pops the lowest applied patch selected by sel and everything
// above it. Patches above it that sel does not select are pushed again.
// The selected patches end up first in the unapplied list, in stack
// order, and are returned.
func (t *Transaction) PopPatches(sel func(patch.Name) bool) ([]patch.Name, error) {
	if err := t.checkBuilding(); err != nil {
		return nil, err
	}
	first := -1
	for i, n := range t.applied {
		if sel(n) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, nil
	}

	above := append([]patch.Name(nil), t.applied[first:]...)
	t.popTo(first)

	var popped, reapply []patch.Name
	for _, n := range above {
		if sel(n) {
			popped = append(popped, n)
		} else {
			reapply = append(reapply, n)
		}
	}
	for _, n := range reapply {
		if err := t.push(n, false); err != nil {
			return popped, err
		}
	}
	return popped, nil
}

// popTo pops applied patches down to the first n, moving them to the
// front of unapplied.
func (t *Transaction) popTo(n int) {
	above := append([]patch.Name(nil), t.applied[n:]...)
	for i := len(above) - 1; i >= 0; i-- {
		t.record(evPop, above[i], "")
	}
	t.applied = append([]patch.Name(nil), t.applied[:n]...)
	t.unapplied = append(above, t.unapplied...)
	t.top = t.topAt(n)
}

// Reorder rearranges the stack so the lists become exactly applied,
// unapplied and hidden, which together must name every patch once. The
// common applied prefix is kept; the rest is popped and pushed in the new
// order.
func (t *Transaction) Reorder(applied, unapplied, hidden []patch.Name) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	seen := make(map[patch.Name]bool, len(t.patches))
	for _, list := range [][]patch.Name{applied, unapplied, hidden} {
		for _, n := range list {
			if !t.Has(n) {
				return unknownPatch(n)
			}
			if seen[n] {
				return fmt.Errorf("reorder: %w: patch %q listed twice", ErrInvalidState, n)
			}
			seen[n] = true
		}
	}
	if len(seen) != len(t.patches) {
		return fmt.Errorf("reorder: %w: not every patch is listed", ErrInvalidState)
	}

	prefix := 0
	for prefix < len(t.applied) && prefix < len(applied) && t.applied[prefix] == applied[prefix] {
		prefix++
	}
	t.popTo(prefix)
	toPush := append([]patch.Name(nil), applied[prefix:]...)
	t.unapplied = append(append([]patch.Name(nil), toPush...), unapplied...)
	t.hidden = append([]patch.Name(nil), hidden...)
	for _, n := range toPush {
		if err := t.push(n, false); err != nil {
			return err
		}
	}
	return nil
}

// HidePatches moves patches to the hidden list, popping applied ones
// first.
func (t *Transaction) HidePatches(names []patch.Name) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	sel := make(map[patch.Name]bool, len(names))
	for _, n := range names {
		if !t.Has(n) {
			return unknownPatch(n)
		}
		if indexName(t.hidden, n) < 0 {
			sel[n] = true
		}
	}
	if _, err := t.PopPatches(func(n patch.Name) bool { return sel[n] }); err != nil {
		return err
	}
	for _, n := range names {
		if !sel[n] {
			continue
		}
		t.unapplied = removeName(t.unapplied, n)
		t.hidden = append(t.hidden, n)
		t.record(evHide, n, "")
	}
	return nil
}

// UnhidePatches moves hidden patches to the end of the unapplied list.
func (t *Transaction) UnhidePatches(names []patch.Name) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	for _, n := range names {
		if !t.Has(n) {
			return unknownPatch(n)
		}
		if indexName(t.hidden, n) < 0 {
			return fmt.Errorf("unhide %s: patch is not hidden", n)
		}
	}
	for _, n := range names {
		t.hidden = removeName(t.hidden, n)
		t.unapplied = append(t.unapplied, n)
		t.record(evUnhide, n, "")
	}
	return nil
}

// checkNewName rejects invalid names and names taken by another patch,
// either exactly or as a slash prefix in either direction. replacing is
// the patch the name is for, if it already exists.
func (t *Transaction) checkNewName(name, replacing patch.Name) error {
	if err := patch.Validate(string(name)); err != nil {
		return err
	}
	if t.Has(name) && name != replacing {
		return fmt.Errorf("%w: %s", ErrPatchExists, name)
	}
	for _, p := range name.Parents() {
		if t.Has(p) && p != replacing {
			return fmt.Errorf("%w: %s would nest under patch %s", ErrPatchExists, name, p)
		}
	}
	dir := string(name) + "/"
	for n := range t.patches {
		if n != replacing && strings.HasPrefix(string(n), dir) {
			return fmt.Errorf("%w: patch %s would nest under %s", ErrPatchExists, n, name)
		}
	}
	return nil
}

// NewUnapplied adds a patch to the unapplied list at position, clamped to
// the list bounds.
func (t *Transaction) NewUnapplied(name patch.Name, commit object.Hash, position int) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	if err := t.checkNewName(name, ""); err != nil {
		return err
	}
	if !t.store.HasObject(commit) {
		return fmt.Errorf("new patch %s: commit %s not found", name, commit.Short())
	}
	position = max(0, min(position, len(t.unapplied)))
	t.unapplied = append(t.unapplied[:position:position], append([]patch.Name{name}, t.unapplied[position:]...)...)
	t.patches[name] = PatchState{Commit: commit}
	t.record(evNew, name, "")
	return nil
}

// NewApplied adds a patch on top of the applied list. The commit's parent
// must be the current top.
func (t *Transaction) NewApplied(name patch.Name, commit object.Hash) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	if err := t.checkNewName(name, ""); err != nil {
		return err
	}
	c, err := t.store.ReadCommit(commit)
	if err != nil {
		return fmt.Errorf("new patch %s: %w", name, err)
	}
	if c.Parent() != t.top {
		return fmt.Errorf("new patch %s: parent %s is not the stack top %s", name, c.Parent().Short(), t.top.Short())
	}
	t.applied = append(t.applied, name)
	t.patches[name] = PatchState{Commit: commit}
	t.top = commit
	t.record(evPush, name, "")
	return nil
}

// DeletePatches removes every patch sel selects, popping applied ones
// first. It returns the deleted names.
func (t *Transaction) DeletePatches(sel func(patch.Name) bool) ([]patch.Name, error) {
	if _, err := t.PopPatches(sel); err != nil {
		return nil, err
	}
	var deleted []patch.Name
	keep := func(list []patch.Name) []patch.Name {
		out := list[:0:0]
		for _, n := range list {
			if sel(n) {
				deleted = append(deleted, n)
				delete(t.patches, n)
				t.record(evDelete, n, "")
				continue
			}
			out = append(out, n)
		}
		return out
	}
	t.unapplied = keep(t.unapplied)
	t.hidden = keep(t.hidden)
	return deleted, nil
}

// RenamePatch gives a patch a new name in place.
func (t *Transaction) RenamePatch(oldName, newName patch.Name) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	ps, ok := t.patches[oldName]
	if !ok {
		return unknownPatch(oldName)
	}
	if err := t.checkNewName(newName, oldName); err != nil {
		return err
	}
	for _, list := range []*[]patch.Name{&t.applied, &t.unapplied, &t.hidden} {
		if i := indexName(*list, oldName); i >= 0 {
			(*list)[i] = newName
		}
	}
	delete(t.patches, oldName)
	t.patches[newName] = ps
	t.record(evRename, newName, string(oldName))
	return nil
}

// UpdatePatch replaces the commit of a patch, as a refresh does. An
// applied patch can only be updated when it is the top one, and the new
// commit must sit on the same parent.
func (t *Transaction) UpdatePatch(name patch.Name, commit object.Hash) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	if !t.Has(name) {
		return unknownPatch(name)
	}
	c, err := t.store.ReadCommit(commit)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	if i := indexName(t.applied, name); i >= 0 {
		if i != len(t.applied)-1 {
			return fmt.Errorf("update %s: only the topmost applied patch can be updated", name)
		}
		if c.Parent() != t.topAt(i) {
			return fmt.Errorf("update %s: commit parent %s is not %s", name, c.Parent().Short(), t.topAt(i).Short())
		}
		t.top = commit
	}
	t.patches[name] = PatchState{Commit: commit}
	t.record(evUpdate, name, "")
	return nil
}

// SquashPatches folds names, in that order, into a single applied patch
// called newName (names[0] when empty). An empty message joins the
// messages of the squashed patches.
func (t *Transaction) SquashPatches(names []patch.Name, message string, newName patch.Name) (patch.Name, error) {
	if err := t.checkBuilding(); err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("squash: no patches given")
	}
	sel := make(map[patch.Name]bool, len(names))
	for _, n := range names {
		if !t.Has(n) {
			return "", unknownPatch(n)
		}
		if indexName(t.hidden, n) >= 0 {
			return "", fmt.Errorf("squash %s: patch is hidden", n)
		}
		if sel[n] {
			return "", fmt.Errorf("squash: patch %q given twice", n)
		}
		sel[n] = true
	}
	if newName == "" {
		newName = names[0]
	} else if !sel[newName] {
		if err := t.checkNewName(newName, ""); err != nil {
			return "", err
		}
	}

	first, err := t.store.ReadCommit(t.patches[names[0]].Commit)
	if err != nil {
		return "", fmt.Errorf("squash: %w", err)
	}
	if message == "" {
		var msgs []string
		for _, n := range names {
			c, err := t.store.ReadCommit(t.patches[n].Commit)
			if err != nil {
				return "", fmt.Errorf("squash: %w", err)
			}
			msgs = append(msgs, strings.TrimRight(c.Message, "\n"))
		}
		message = strings.Join(msgs, "\n\n") + "\n"
	}

	if _, err := t.PopPatches(func(n patch.Name) bool { return sel[n] }); err != nil {
		return "", err
	}
	base := t.top
	mark := len(t.events)
	for _, n := range names {
		if err := t.push(n, false); err != nil {
			return "", err
		}
	}
	t.events = t.events[:mark]
	tree, err := t.store.CommitTree(t.top)
	if err != nil {
		return "", fmt.Errorf("squash: %w", err)
	}
	commit, err := t.NewCommit(tree, []object.Hash{base}, message, repo.CommitOptions{
		Author:     first.Author,
		AuthorTime: first.AuthorTime(),
		Encoding:   first.Encoding,
	})
	if err != nil {
		return "", fmt.Errorf("squash: %w", err)
	}

	t.applied = t.applied[:len(t.applied)-len(names)]
	for _, n := range names {
		delete(t.patches, n)
	}
	t.applied = append(t.applied, newName)
	t.patches[newName] = PatchState{Commit: commit}
	t.top = commit
	t.record(evSquash, newName, joinNames(names))
	return newName, nil
}

// ResetToState makes the staged stack match state. The longest applied
// prefix identical in name and commit is kept, the rest is popped, the
// remaining applied patches of state are pushed in its order, and the
// other lists are copied.
func (t *Transaction) ResetToState(state *StackState) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	if err := state.Validate(); err != nil {
		return err
	}
	prefix := 0
	for prefix < len(t.applied) && prefix < len(state.Applied) &&
		t.applied[prefix] == state.Applied[prefix] &&
		t.patches[t.applied[prefix]] == state.Patches[state.Applied[prefix]] {
		prefix++
	}
	t.popTo(prefix)
	for _, n := range t.All() {
		if !state.Has(n) {
			t.record(evDelete, n, "")
		}
	}

	t.patches = make(map[patch.Name]PatchState, len(state.Patches))
	for n, p := range state.Patches {
		t.patches[n] = p
	}
	toPush := append([]patch.Name(nil), state.Applied[prefix:]...)
	t.unapplied = append(append([]patch.Name(nil), toPush...), state.Unapplied...)
	t.hidden = append([]patch.Name(nil), state.Hidden...)
	for _, n := range toPush {
		if err := t.push(n, false); err != nil {
			return err
		}
	}
	return nil
}

// ResetToStatePartially resets only the named patches to how state
// records them: changed applied ones are popped, ones absent from state
// are deleted, ones new to the stack become unapplied, and the popped ones
// that state has applied are pushed again.
func (t *Transaction) ResetToStatePartially(state *StackState, names []patch.Name) error {
	if err := t.checkBuilding(); err != nil {
		return err
	}
	sel := make(map[patch.Name]bool, len(names))
	for _, n := range names {
		if !t.Has(n) && !state.Has(n) {
			return unknownPatch(n)
		}
		sel[n] = true
	}
	changed := func(n patch.Name) bool {
		if !sel[n] {
			return false
		}
		target, ok := state.Patches[n]
		return !ok || target != t.patches[n]
	}
	popped, err := t.PopPatches(changed)
	if err != nil {
		return err
	}

	for _, n := range names {
		target, inTarget := state.Patches[n]
		switch {
		case inTarget && !t.Has(n):
			t.unapplied = append(t.unapplied, n)
			t.patches[n] = target
			t.record(evNew, n, "")
		case inTarget:
			t.patches[n] = target
		default:
			t.unapplied = removeName(t.unapplied, n)
			t.hidden = removeName(t.hidden, n)
			delete(t.patches, n)
			t.record(evDelete, n, "")
		}
	}

	poppedSet := make(map[patch.Name]bool, len(popped))
	for _, n := range popped {
		poppedSet[n] = true
	}
	for _, n := range state.Applied {
		if poppedSet[n] && indexName(t.unapplied, n) >= 0 {
			if err := t.push(n, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinNames(names []patch.Name) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}
