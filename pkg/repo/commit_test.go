package repo

import (
	"errors"
	"os"
	"testing"

	"github.com/odvcencio/gotstack/pkg/object"
)

func TestCommit_CreatesObjectAndAdvancesBranch(t *testing.T) {
	r := initRepoWithFile(t, "main.go", []byte("package main\n"))

	h, err := r.Commit("initial", nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !r.HasObject(h) {
		t.Fatalf("commit %s not in store", h)
	}
	head, err := r.ResolveRef("HEAD")
	if err != nil || head != h {
		t.Fatalf("HEAD = %s, %v; want %s", head, err, h)
	}

	c, err := r.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 0 {
		t.Errorf("root commit has parents %v", c.Parents)
	}
	if c.Committer == "" || c.AuthorTimezone == "" {
		t.Errorf("commit metadata incomplete: %+v", c)
	}

	second := commitFiles(t, r, "second", map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	c2, err := r.ReadCommit(second)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c2.Parent() != h {
		t.Errorf("second.Parent() = %s, want %s", c2.Parent(), h)
	}

	log, err := r.Log(second, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 2 || log[0].Message != "second" || log[1].Message != "initial" {
		t.Errorf("Log = %d commits", len(log))
	}
}

func TestCommit_NothingStaged(t *testing.T) {
	r := newRepo(t)
	if _, err := r.Commit("empty", nil); err == nil {
		t.Fatal("Commit with empty index should fail")
	}
}

func TestCommit_RefusesUnresolvedConflicts(t *testing.T) {
	r := initRepoWithFile(t, "a.txt", []byte("a\n"))
	if err := r.WriteConflicts([]Conflict{{Path: "a.txt", Content: []byte("<<<<<<< ours\n"), Mode: object.TreeModeFile}}); err != nil {
		t.Fatalf("WriteConflicts: %v", err)
	}
	if _, err := r.Commit("conflicted", nil); !errors.Is(err, ErrUnresolvedConflicts) {
		t.Fatalf("Commit err = %v, want ErrUnresolvedConflicts", err)
	}
	if _, err := r.WriteIndexTree(); !errors.Is(err, ErrUnresolvedConflicts) {
		t.Fatalf("WriteIndexTree err = %v, want ErrUnresolvedConflicts", err)
	}
}

func TestNewCommitSigned(t *testing.T) {
	r := newRepo(t)
	tree, err := r.EmptyTree()
	if err != nil {
		t.Fatalf("EmptyTree: %v", err)
	}
	signer := func(payload []byte) (string, error) { return "test-signature", nil }
	h, err := r.NewCommit(tree, nil, "signed\n", CommitOptions{Author: "A <a@x>", Signer: signer})
	if err != nil {
		t.Fatalf("NewCommit: %v", err)
	}
	c, err := r.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.Signature != "test-signature" || c.Author != "A <a@x>" {
		t.Errorf("commit = %+v", c)
	}
}

func TestStatusAndClean(t *testing.T) {
	r := initRepoWithFile(t, "a.txt", []byte("one\n"))
	if _, err := r.Commit("base", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if clean, err := r.IsClean(); err != nil || !clean {
		t.Fatalf("IsClean after commit = %v, %v", clean, err)
	}

	writeFile(t, r, "untracked.txt", "x\n")
	if clean, _ := r.IsClean(); !clean {
		t.Error("untracked file made the tree dirty")
	}

	writeFile(t, r, "a.txt", "two lines\nnow\n")
	err := r.CheckIndexAndWorktreeClean()
	if !errors.Is(err, ErrDirtyWorktree) {
		t.Fatalf("CheckIndexAndWorktreeClean = %v, want ErrDirtyWorktree", err)
	}
	entries, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	var sawDirty, sawUntracked bool
	for _, e := range entries {
		switch e.Path {
		case "a.txt":
			sawDirty = e.WorkStatus == StatusDirty
		case "untracked.txt":
			sawUntracked = e.WorkStatus == StatusUntracked
		}
	}
	if !sawDirty || !sawUntracked {
		t.Errorf("Status = %+v", entries)
	}

	if err := os.Remove(r.RootDir + "/a.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.AddTracked(); err != nil {
		t.Fatalf("AddTracked: %v", err)
	}
	stg, _ := r.ReadStaging()
	if _, ok := stg.Entries["a.txt"]; ok {
		t.Error("AddTracked kept a deleted file")
	}
}
