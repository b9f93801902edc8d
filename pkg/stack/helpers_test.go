package stack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

func init() { color.NoColor = true }

func newRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func writeFile(t *testing.T, r *repo.Repo, name, content string) {
	t.Helper()
	path := filepath.Join(r.RootDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readFile(t *testing.T, r *repo.Repo, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func fileExists(r *repo.Repo, name string) bool {
	_, err := os.Stat(filepath.Join(r.RootDir, filepath.FromSlash(name)))
	return err == nil
}

// commitFiles stages files and commits them on the current branch.
func commitFiles(t *testing.T, r *repo.Repo, message string, files map[string]string) object.Hash {
	t.Helper()
	var names []string
	for name, content := range files {
		writeFile(t, r, name, content)
		names = append(names, name)
	}
	if err := r.Add(names); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h, err := r.Commit(message, nil)
	if err != nil {
		t.Fatalf("Commit(%q): %v", message, err)
	}
	return h
}

// patchCommit writes a commit on parent whose tree is parent's tree with
// files overlaid. The worktree is not touched.
func patchCommit(t *testing.T, r *repo.Repo, parent object.Hash, message string, files map[string]string) object.Hash {
	t.Helper()
	tree, err := r.CommitTree(parent)
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	entries, err := r.TreeFiles(tree)
	if err != nil {
		t.Fatalf("TreeFiles: %v", err)
	}
	for name, content := range files {
		h, err := r.WriteBlob(&object.Blob{Data: []byte(content)})
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		entries[name] = repo.TreeFileEntry{Path: name, BlobHash: h, Mode: object.TreeModeFile}
	}
	list := make([]repo.TreeFileEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	newTree, err := r.BuildTree(list)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	h, err := r.NewCommit(newTree, []object.Hash{parent}, message+"\n", repo.CommitOptions{})
	if err != nil {
		t.Fatalf("NewCommit: %v", err)
	}
	return h
}

// setupStack returns a repository with one commit holding a.txt and an
// initialized stack on main.
func setupStack(t *testing.T) (*repo.Repo, *Stack) {
	t.Helper()
	r := newRepo(t)
	commitFiles(t, r, "base", map[string]string{"a.txt": "base\n"})
	s, err := FromBranch(r, "", AutoInitialize)
	if err != nil {
		t.Fatalf("FromBranch: %v", err)
	}
	return r, s
}

// pushNew adds an applied patch on top of s and checks it out.
func pushNew(t *testing.T, r *repo.Repo, s *Stack, name string, files map[string]string) *Stack {
	t.Helper()
	c := patchCommit(t, r, s.Top(), name, files)
	ns, err := s.SetupTransaction().UseIndexAndWorktree(true).Transact(func(tx *Transaction) error {
		return tx.NewApplied(patch.Name(name), c)
	}).Execute("new " + name)
	if err != nil {
		t.Fatalf("new %s: %v", name, err)
	}
	return ns
}

// addUnapplied adds an unapplied patch at the end of the unapplied list.
func addUnapplied(t *testing.T, s *Stack, name string, commit object.Hash) *Stack {
	t.Helper()
	ns, err := s.SetupTransaction().Transact(func(tx *Transaction) error {
		return tx.NewUnapplied(patch.Name(name), commit, len(tx.Unapplied()))
	}).Execute("new " + name)
	if err != nil {
		t.Fatalf("new %s: %v", name, err)
	}
	return ns
}

func names(ns ...string) []patch.Name {
	out := make([]patch.Name, len(ns))
	for i, n := range ns {
		out[i] = patch.Name(n)
	}
	return out
}

func equal(a, b []patch.Name) bool { return equalNames(a, b) }

func only(ns ...patch.Name) func(patch.Name) bool {
	set := make(map[patch.Name]bool, len(ns))
	for _, n := range ns {
		set[n] = true
	}
	return func(n patch.Name) bool { return set[n] }
}

func stateRef(t *testing.T, r *repo.Repo) object.Hash {
	t.Helper()
	h, err := r.ResolveRef(StateRefName("main"))
	if err != nil {
		t.Fatalf("ResolveRef(state): %v", err)
	}
	return h
}
