package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()

	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init(%q): %v", dir, err)
	}
	if r.RootDir != dir {
		t.Errorf("RootDir = %q, want %q", r.RootDir, dir)
	}
	gotDir := filepath.Join(dir, ".got")
	if r.GotDir != gotDir {
		t.Errorf("GotDir = %q, want %q", r.GotDir, gotDir)
	}
	assertDir(t, filepath.Join(gotDir, "objects"))
	assertDir(t, filepath.Join(gotDir, "refs", "heads"))
	assertDir(t, filepath.Join(gotDir, "logs", "refs", "heads"))

	head, err := r.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != "refs/heads/main" {
		t.Errorf("Head = %q, want refs/heads/main", head)
	}
}

func TestInit_ExistingRepo_Error(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(dir); err == nil {
		t.Fatal("second Init should fail on existing repo, got nil error")
	}
}

func TestOpen_FindsRepoFromSubdirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	r, err := Open(sub)
	if err != nil {
		t.Fatalf("Open(%q): %v", sub, err)
	}
	if r.RootDir != dir {
		t.Errorf("RootDir = %q, want %q", r.RootDir, dir)
	}
}

func TestOpen_NotARepo(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("Open outside a repository should fail")
	}
}
