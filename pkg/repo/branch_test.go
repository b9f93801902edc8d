package repo

import (
	"errors"
	"os"
	"testing"
)

func TestBranchLifecycle(t *testing.T) {
	r := newRepo(t)
	if _, _, err := r.ResolveBranch(""); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ResolveBranch(unborn) err = %v, want os.ErrNotExist", err)
	}
	h := commitFiles(t, r, "base", map[string]string{"a": "a\n"})

	name, head, err := r.ResolveBranch("")
	if err != nil || name != "main" || head != h {
		t.Fatalf("ResolveBranch = %q, %s, %v", name, head, err)
	}

	if err := r.CreateBranch("dev", h); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := r.CreateBranch("dev", h); err == nil {
		t.Fatal("CreateBranch(existing) should fail")
	}
	branches, err := r.ListBranches()
	if err != nil || len(branches) != 2 || branches[0] != "dev" || branches[1] != "main" {
		t.Fatalf("ListBranches = %v, %v", branches, err)
	}

	if err := r.SwitchBranch("dev"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if cur, _ := r.CurrentBranch(); cur != "dev" {
		t.Errorf("CurrentBranch = %q, want dev", cur)
	}
	if err := r.DeleteBranch("dev"); err == nil {
		t.Error("DeleteBranch(current) should fail")
	}
	if err := r.DeleteBranch("main"); err != nil {
		t.Errorf("DeleteBranch(main): %v", err)
	}
}

func TestCurrentBranchDetached(t *testing.T) {
	r := newRepo(t)
	h := commitFiles(t, r, "base", map[string]string{"a": "a\n"})
	if err := r.ForceUpdateRef("HEAD", h, "detach"); err != nil {
		t.Fatalf("ForceUpdateRef(HEAD): %v", err)
	}
	if _, err := r.CurrentBranch(); !errors.Is(err, ErrDetachedHead) {
		t.Fatalf("CurrentBranch err = %v, want ErrDetachedHead", err)
	}
}

func TestRevParse(t *testing.T) {
	r := newRepo(t)
	c1 := commitFiles(t, r, "one", map[string]string{"a": "1\n"})
	c2 := commitFiles(t, r, "two", map[string]string{"a": "2\n"})
	c3 := commitFiles(t, r, "three", map[string]string{"a": "3\n"})

	cases := map[string]string{
		"HEAD":            string(c3),
		"main":            string(c3),
		"refs/heads/main": string(c3),
		"HEAD^":           string(c2),
		"HEAD~2":          string(c1),
		"main^^":          string(c1),
		"HEAD~1^":         string(c1),
		string(c2[:8]):    string(c2),
		string(c3) + "^0": string(c3),
	}
	for expr, want := range cases {
		got, err := r.RevParse(expr)
		if err != nil {
			t.Errorf("RevParse(%q): %v", expr, err)
			continue
		}
		if string(got) != want {
			t.Errorf("RevParse(%q) = %s, want %s", expr, got.Short(), want[:12])
		}
	}

	for _, bad := range []string{"", "nope", "HEAD~3", "HEAD^2", "HEAD^x"} {
		if _, err := r.RevParse(bad); err == nil {
			t.Errorf("RevParse(%q) succeeded", bad)
		}
	}
}
