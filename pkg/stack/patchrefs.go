package stack

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// StateRefName is the reference holding the state commit of branch.
func StateRefName(branch string) string {
	return "refs/stacks/" + branch
}

// PatchRefPrefix is the namespace of the per-patch references of branch,
// with a trailing slash.
func PatchRefPrefix(branch string) string {
	return "refs/patches/" + branch + "/"
}

// PatchRefName is the reference mirroring the commit of one patch.
func PatchRefName(branch string, name patch.Name) string {
	return PatchRefPrefix(branch) + string(name)
}

// ReconcileReport lists the reference names a reconciliation pass touched.
type ReconcileReport struct {
	Updated []string
	Deleted []string
	Created []string
}

// Empty reports whether the pass changed nothing.
func (r ReconcileReport) Empty() bool {
	return len(r.Updated) == 0 && len(r.Deleted) == 0 && len(r.Created) == 0
}

// reconcilePatchRefs makes the patch references of branch match state
// exactly. References already pointing at the right commit are left alone;
// wrong or symbolic ones are rewritten; ones naming no patch are deleted;
// missing ones are created with a must-not-exist compare-and-swap. Running
// it twice in a row changes nothing the second time.
func reconcilePatchRefs(store Store, branch string, state *StackState, log *zap.Logger) (ReconcileReport, error) {
	var report ReconcileReport
	prefix := PatchRefPrefix(branch)
	refs, err := store.ListRefs(prefix)
	if err != nil {
		return report, fmt.Errorf("reconcile patch refs: %w", err)
	}

	missing := make(map[patch.Name]PatchState, len(state.Patches))
	for n, p := range state.Patches {
		missing[n] = p
	}

	for _, refName := range repo.SortedRefNames(refs) {
		rest := strings.TrimPrefix(refName, prefix)
		val := refs[refName]
		name := patch.Name(rest)
		ps, known := missing[name]
		if !known || patch.Validate(rest) != nil {
			if err := store.DeleteRef(refName); err != nil {
				return report, fmt.Errorf("reconcile patch refs: %w", err)
			}
			report.Deleted = append(report.Deleted, refName)
			log.Info("deleted orphaned patch ref", zap.String("ref", refName))
			continue
		}
		delete(missing, name)

		reason := ""
		switch {
		case val.IsSymbolic():
			reason = "fixup symbolic patch ref"
		case val.Hash != ps.Commit:
			reason = "fixup broken patch ref"
		default:
			continue
		}
		if err := store.ForceUpdateRef(refName, ps.Commit, reason); err != nil {
			return report, fmt.Errorf("reconcile patch refs: %w", err)
		}
		report.Updated = append(report.Updated, refName)
		log.Info(reason, zap.String("ref", refName), zap.String("commit", ps.Commit.Short()))
	}

	names := make([]patch.Name, 0, len(missing))
	for n := range missing {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		refName := PatchRefName(branch, n)
		if err := store.UpdateRefCAS(refName, missing[n].Commit, "", "create patch ref"); err != nil {
			return report, fmt.Errorf("reconcile patch refs: create %s: %w", refName, err)
		}
		report.Created = append(report.Created, refName)
		log.Debug("created patch ref", zap.String("ref", refName))
	}
	return report, nil
}
