package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/gotstack/pkg/object"
)

func initRepoWithFile(t *testing.T, name string, content []byte) *Repo {
	t.Helper()
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeFile(t, r, name, string(content))
	if err := r.Add([]string{name}); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	return r
}

func writeFile(t *testing.T, r *Repo, name, content string) {
	t.Helper()
	path := filepath.Join(r.RootDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readFile(t *testing.T, r *Repo, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// commitFiles stages files and commits them on the current branch.
func commitFiles(t *testing.T, r *Repo, message string, files map[string]string) object.Hash {
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

// treeOf builds a tree holding the given files without touching the
// worktree.
func treeOf(t *testing.T, r *Repo, files map[string]string) object.Hash {
	t.Helper()
	var entries []TreeFileEntry
	for name, content := range files {
		h, err := r.Store.WriteBlob(&object.Blob{Data: []byte(content)})
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		entries = append(entries, TreeFileEntry{Path: name, BlobHash: h, Mode: object.TreeModeFile})
	}
	h, err := r.BuildTree(entries)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	return h
}

func assertDir(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("expected directory %q to exist: %v", path, err)
		return
	}
	if !info.IsDir() {
		t.Errorf("%q exists but is not a directory", path)
	}
}
