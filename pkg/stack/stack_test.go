package stack

import (
	"errors"
	"testing"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/repo"
)

func TestFromBranchInitializes(t *testing.T) {
	r, s := setupStack(t)
	if !s.IsInitialized() {
		t.Fatal("stack not initialized")
	}
	if len(s.Applied()) != 0 || len(s.Unapplied()) != 0 || len(s.Hidden()) != 0 {
		t.Fatalf("new stack lists = %v %v %v", s.Applied(), s.Unapplied(), s.Hidden())
	}
	if s.Base() != s.BranchHead() || s.Top() != s.BranchHead() {
		t.Errorf("base %s top %s head %s", s.Base().Short(), s.Top().Short(), s.BranchHead().Short())
	}
	if got := stateRef(t, r); got != s.StateCommit() {
		t.Fatalf("state ref = %s, want %s", got.Short(), s.StateCommit().Short())
	}

	c, err := r.ReadCommit(s.StateCommit())
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 1 || c.Parents[0] != s.BranchHead() {
		t.Errorf("initial state parents = %v, want [head]", c.Parents)
	}
	state, err := FromCommit(r, s.StateCommit())
	if err != nil {
		t.Fatalf("FromCommit: %v", err)
	}
	if state.Prev != "" || state.Head != s.BranchHead() {
		t.Errorf("decoded state = %+v", state)
	}

	again, err := FromBranch(r, "main", AutoInitialize)
	if err != nil {
		t.Fatalf("FromBranch(again): %v", err)
	}
	if again.StateCommit() != s.StateCommit() {
		t.Error("loading an initialized stack wrote a new state")
	}
	if _, err := FromBranch(r, "main", MustInitialize); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("MustInitialize err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestFromBranchUninitialized(t *testing.T) {
	r := newRepo(t)
	h := commitFiles(t, r, "base", map[string]string{"a.txt": "a\n"})
	if err := r.CreateBranch("dev", h); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	_, err := FromBranch(r, "dev", RequireInitialized)
	if !errors.Is(err, ErrNotInitialized) || Kind(err) != KindPrecondition {
		t.Fatalf("RequireInitialized err = %v (%v)", err, Kind(err))
	}

	s, err := FromBranch(r, "dev", AllowUninitialized)
	if err != nil {
		t.Fatalf("AllowUninitialized: %v", err)
	}
	if s.IsInitialized() || s.StateCommit() != "" || s.Head() != h {
		t.Fatalf("uninitialized stack = %+v", s)
	}
	if r.RefExists(StateRefName("dev")) {
		t.Error("AllowUninitialized created the state ref")
	}
	if _, err := s.LogExternalMods(""); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("LogExternalMods err = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("SetupTransaction on an uninitialized stack did not panic")
		}
	}()
	s.SetupTransaction()
}

func TestStateLog(t *testing.T) {
	r, s := setupStack(t)
	first := s.StateCommit()
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	second := s.StateCommit()
	s = pushNew(t, r, s, "p2", map[string]string{"p2.txt": "2\n"})

	entries, err := s.Log(0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Log returned %d entries, want 3", len(entries))
	}
	if entries[0].ID != s.StateCommit() || entries[1].ID != second || entries[2].ID != first {
		t.Errorf("Log ids = %s %s %s", entries[0].ID.Short(), entries[1].ID.Short(), entries[2].ID.Short())
	}
	if entries[0].State.Prev != second || entries[1].State.Prev != first || entries[2].State.Prev != "" {
		t.Error("prev chain broken")
	}
	if entries[0].Message != "new p2\n" || entries[2].Message != "initialize\n" {
		t.Errorf("messages = %q, %q", entries[0].Message, entries[2].Message)
	}
	if !equal(entries[1].State.Applied, names("p1")) {
		t.Errorf("second state applied = %v", entries[1].State.Applied)
	}

	if entries, err = s.Log(1); err != nil || len(entries) != 1 {
		t.Fatalf("Log(1) = %d entries, %v", len(entries), err)
	}

	if err := s.ClearStateLog("clear log"); err != nil {
		t.Fatalf("ClearStateLog: %v", err)
	}
	if entries, err = s.Log(0); err != nil || len(entries) != 1 {
		t.Fatalf("Log after clear = %d entries, %v", len(entries), err)
	}
	if !equal(entries[0].State.Applied, names("p1", "p2")) {
		t.Errorf("cleared state applied = %v", entries[0].State.Applied)
	}
}

func TestDeinitialize(t *testing.T) {
	r, s := setupStack(t)
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	if err := s.SetProtected(true); err != nil {
		t.Fatalf("SetProtected: %v", err)
	}

	if err := s.Deinitialize(); err != nil {
		t.Fatalf("Deinitialize: %v", err)
	}
	if r.RefExists(StateRefName("main")) {
		t.Error("state ref survived")
	}
	refs, err := r.ListRefs(PatchRefPrefix("main"))
	if err != nil || len(refs) != 0 {
		t.Errorf("patch refs = %v, %v", refs, err)
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if _, ok := cfg.Get("branch.main.stgit.protect"); ok {
		t.Error("stack config survived")
	}
	if _, err := FromBranch(r, "", RequireInitialized); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("FromBranch err = %v, want ErrNotInitialized", err)
	}
	if err := s.Deinitialize(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("second Deinitialize err = %v", err)
	}
}

func TestProtected(t *testing.T) {
	r, s := setupStack(t)
	if err := s.SetProtected(true); err != nil {
		t.Fatalf("SetProtected: %v", err)
	}
	if p, err := s.IsProtected(); err != nil || !p {
		t.Fatalf("IsProtected = %v, %v", p, err)
	}
	before := stateRef(t, r)

	c := patchCommit(t, r, s.Top(), "p1", map[string]string{"p1.txt": "1\n"})
	_, err := s.SetupTransaction().Transact(func(tx *Transaction) error {
		return tx.NewUnapplied("p1", c, 0)
	}).Execute("new p1")
	if !errors.Is(err, ErrProtected) || Kind(err) != KindPrecondition {
		t.Fatalf("Execute on protected stack err = %v", err)
	}
	if stateRef(t, r) != before {
		t.Error("protected stack state changed")
	}

	if _, err := s.SetupTransaction().Transact(func(*Transaction) error { return nil }).Execute("noop"); err != nil {
		t.Errorf("no-op transaction on protected stack: %v", err)
	}

	if err := s.SetProtected(false); err != nil {
		t.Fatalf("SetProtected(false): %v", err)
	}
	addUnapplied(t, s, "p1", c)
}

func TestHeadTopMismatchAndLogExternalMods(t *testing.T) {
	r, s := setupStack(t)
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	ext := commitFiles(t, r, "outside", map[string]string{"x.txt": "x\n"})

	s, err := FromBranch(r, "", RequireInitialized)
	if err != nil {
		t.Fatalf("FromBranch: %v", err)
	}
	if s.IsHeadTop() {
		t.Fatal("IsHeadTop after an external commit")
	}
	_, err = s.SetupTransaction().Transact(func(*Transaction) error { return nil }).Execute("noop")
	if !errors.Is(err, ErrHeadTopMismatch) {
		t.Fatalf("Execute err = %v, want ErrHeadTopMismatch", err)
	}

	old := s.StateCommit()
	ns, err := s.LogExternalMods("")
	if err != nil {
		t.Fatalf("LogExternalMods: %v", err)
	}
	st := ns.State()
	if st.Head != ext || st.Prev != old || !equal(st.Applied, names("p1")) {
		t.Errorf("state after LogExternalMods = %+v", st)
	}
	if stateRef(t, r) != ns.StateCommit() {
		t.Error("state ref not moved")
	}
	if _, err := s.LogExternalMods(""); Kind(err) != KindConcurrency {
		t.Errorf("stale LogExternalMods err = %v, want concurrency", err)
	}
}

func TestRepairAdoptsCommits(t *testing.T) {
	r, s := setupStack(t)
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	commitFiles(t, r, "Fix the thing\n\nbody", map[string]string{"x.txt": "x\n"})

	s, err := FromBranch(r, "", RequireInitialized)
	if err != nil {
		t.Fatalf("FromBranch: %v", err)
	}
	ns, res, err := s.Repair()
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !equal(res.Adopted, names("fix-the-thing")) || len(res.Unapplied) != 0 {
		t.Fatalf("Repair result = %+v", res)
	}
	if !equal(ns.Applied(), names("p1", "fix-the-thing")) || !ns.IsHeadTop() {
		t.Fatalf("repaired applied = %v, head top %v", ns.Applied(), ns.IsHeadTop())
	}
	if _, err := r.ResolveRef(PatchRefName("main", "fix-the-thing")); err != nil {
		t.Errorf("adopted patch ref: %v", err)
	}

	again, res, err := ns.Repair()
	if err != nil || again.StateCommit() != ns.StateCommit() || len(res.Adopted) != 0 {
		t.Errorf("second Repair = %+v, %v", res, err)
	}
}

func TestRepairUnappliesRewoundPatches(t *testing.T) {
	r, s := setupStack(t)
	base := s.Base()
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	s = pushNew(t, r, s, "p2", map[string]string{"p2.txt": "2\n"})
	if err := r.ForceUpdateRef(repo.BranchRef("main"), patchCommitOf(t, s, "p1"), "rewind"); err != nil {
		t.Fatalf("ForceUpdateRef: %v", err)
	}

	s, err := FromBranch(r, "", RequireInitialized)
	if err != nil {
		t.Fatalf("FromBranch: %v", err)
	}
	ns, res, err := s.Repair()
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !equal(ns.Applied(), names("p1")) || !equal(ns.Unapplied(), names("p2")) {
		t.Fatalf("after repair applied %v unapplied %v", ns.Applied(), ns.Unapplied())
	}
	if !equal(res.Unapplied, names("p2")) {
		t.Errorf("Unapplied = %v", res.Unapplied)
	}
	if ns.Base() != base {
		t.Errorf("base moved to %s", ns.Base().Short())
	}
}

// patchCommitOf returns the commit of a patch or fails the test.
func patchCommitOf(t *testing.T, s *Stack, name string) object.Hash {
	t.Helper()
	p, ok := s.Patch(names(name)[0])
	if !ok {
		t.Fatalf("no patch %q", name)
	}
	return p.Commit
}

func TestNameLengthLimit(t *testing.T) {
	r := newRepo(t)
	if n := NameLengthLimit(r); n != 30 {
		t.Errorf("default limit = %d", n)
	}
	if err := r.UpdateConfig(func(c *repo.Config) error { return c.Set("stgit.namelength", 8) }); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if n := NameLengthLimit(r); n != 8 {
		t.Errorf("configured limit = %d", n)
	}
}
