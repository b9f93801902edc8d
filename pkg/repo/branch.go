package repo

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// ErrDetachedHead is returned when an operation needs a current branch and
// HEAD points directly at a commit.
var ErrDetachedHead = errors.New("HEAD is detached")

// BranchRef returns the full ref name of a branch.
func BranchRef(name string) string {
	return "refs/heads/" + name
}

// CreateBranch creates a new branch pointing at the given target hash.
// Returns an error if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	if err := r.UpdateRefCAS(BranchRef(name), target, "", "branch: created"); err != nil {
		if errors.Is(err, ErrRefCASMismatch) {
			return fmt.Errorf("create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes refs/heads/<name>. Returns an error if the branch is
// the current branch or does not exist.
func (r *Repo) DeleteBranch(name string) error {
	current, err := r.CurrentBranch()
	if err != nil && !errors.Is(err, ErrDetachedHead) {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}
	if !r.RefExists(BranchRef(name)) {
		return fmt.Errorf("delete branch: branch %q does not exist", name)
	}
	return r.DeleteRef(BranchRef(name))
}

// ListBranches returns the branch names sorted alphabetically.
func (r *Repo) ListBranches() ([]string, error) {
	refs, err := r.ListRefs("refs/heads/")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(refs))
	for ref := range refs {
		names = append(names, strings.TrimPrefix(ref, "refs/heads/"))
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch reads HEAD and returns the branch name it points at
// ("ref: refs/heads/main" gives "main"). A detached HEAD returns
// ErrDetachedHead.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}

	const prefix = "refs/heads/"
	if strings.HasPrefix(head, prefix) {
		return strings.TrimPrefix(head, prefix), nil
	}
	return "", fmt.Errorf("current branch: %w", ErrDetachedHead)
}

// ResolveBranch returns the name and head commit of branch, or of the
// current branch when name is empty. A branch with no commits yet returns
// an error matching os.ErrNotExist.
func (r *Repo) ResolveBranch(name string) (string, object.Hash, error) {
	if name == "" {
		cur, err := r.CurrentBranch()
		if err != nil {
			return "", "", err
		}
		name = cur
	}
	h, err := r.ResolveRef(BranchRef(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return name, "", fmt.Errorf("branch %q: %w", name, os.ErrNotExist)
		}
		return name, "", fmt.Errorf("branch %q: %w", name, err)
	}
	return name, h, nil
}

// SwitchBranch points HEAD at an existing branch without touching the
// worktree.
func (r *Repo) SwitchBranch(name string) error {
	if !r.RefExists(BranchRef(name)) {
		return fmt.Errorf("switch branch: branch %q does not exist", name)
	}
	return os.WriteFile(r.refPath("HEAD"), []byte(symbolicPrefix+BranchRef(name)+"\n"), 0o644)
}
