package stack

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

func sampleState() *StackState {
	s := NewState("h0")
	s.Prev = "p0"
	for i, n := range []string{"one", "two", "three", "four"} {
		name := patch.Name(n)
		s.Patches[name] = PatchState{Commit: object.Hash(fmt.Sprintf("c%d", i))}
		switch i {
		case 0, 1:
			s.Applied = append(s.Applied, name)
		case 2:
			s.Unapplied = append(s.Unapplied, name)
		default:
			s.Hidden = append(s.Hidden, name)
		}
	}
	return s
}

func TestEncodeDecodeState(t *testing.T) {
	s := sampleState()
	data, err := encodeState(s)
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}
	// Map iteration order must not leak into the bytes.
	for i := 0; i < 10; i++ {
		again, err := encodeState(s.Clone())
		if err != nil {
			t.Fatalf("encodeState: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatal("encoding is not deterministic")
		}
	}

	got, err := decodeState(data)
	if err != nil {
		t.Fatalf("decodeState: %v", err)
	}
	if got.Prev != s.Prev || !got.sameContent(s) {
		t.Errorf("decoded = %+v, want %+v", got, s)
	}

	empty := NewState("h0")
	data, err = encodeState(empty)
	if err != nil {
		t.Fatalf("encodeState: %v", err)
	}
	got, err = decodeState(data)
	if err != nil {
		t.Fatalf("decodeState(empty): %v", err)
	}
	if got.Prev != "" || got.Applied == nil || len(got.Applied) != 0 {
		t.Errorf("decoded empty state = %+v", got)
	}
}

func TestDecodeStateRejects(t *testing.T) {
	doc := toDoc(sampleState())
	doc.Version = FormatVersion + 1
	future, err := encMode.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	doc = toDoc(sampleState())
	doc.Hidden = nil
	noHidden, err := encMode.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// {"version": 5, "version": 5}
	dup := []byte{0xa2, 0x67, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x05, 0x67, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x05}

	for name, data := range map[string][]byte{
		"future version": future,
		"missing list":   noHidden,
		"duplicate key":  dup,
		"garbage":        []byte("not cbor"),
	} {
		if _, err := decodeState(data); err == nil {
			t.Errorf("%s: decodeState succeeded", name)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*StackState){
		"no head":         func(s *StackState) { s.Head = "" },
		"listed twice":    func(s *StackState) { s.Unapplied = append(s.Unapplied, "one") },
		"no entry":        func(s *StackState) { s.Applied = append(s.Applied, "ghost") },
		"in no list":      func(s *StackState) { s.Patches["ghost"] = PatchState{Commit: "c9"} },
		"invalid name":    func(s *StackState) { s.Applied[0] = "a..b"; s.Patches["a..b"] = PatchState{Commit: "c0"}; delete(s.Patches, "one") },
		"no commit":       func(s *StackState) { s.Patches["one"] = PatchState{} },
		"applied==hidden": func(s *StackState) { s.Hidden = append(s.Hidden, "two") },
		"nested names": func(s *StackState) {
			s.Unapplied = append(s.Unapplied, "one/sub")
			s.Patches["one/sub"] = PatchState{Commit: "c9"}
		},
	}
	if err := sampleState().Validate(); err != nil {
		t.Fatalf("Validate(sample): %v", err)
	}
	for name, mutate := range cases {
		s := sampleState()
		mutate(s)
		if err := s.Validate(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: Validate = %v, want ErrInvalidState", name, err)
		}
	}
}

func TestStateCommitParentsAndTree(t *testing.T) {
	r, s := setupStack(t)
	base := s.Base()
	s = pushNew(t, r, s, "p1", map[string]string{"p1.txt": "1\n"})
	u := patchCommit(t, r, base, "unapplied one", map[string]string{"u.txt": "u\n"})
	s = addUnapplied(t, s, "u", u)

	c, err := r.ReadCommit(s.StateCommit())
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	want := []object.Hash{s.State().Prev, s.Head(), u}
	if len(c.Parents) != len(want) {
		t.Fatalf("parents = %v, want %v", c.Parents, want)
	}
	for i := range want {
		if c.Parents[i] != want[i] {
			t.Errorf("parent %d = %s, want %s", i, c.Parents[i].Short(), want[i].Short())
		}
	}

	files, err := r.TreeFiles(c.TreeHash)
	if err != nil {
		t.Fatalf("TreeFiles: %v", err)
	}
	if _, ok := files[stateBlobName]; !ok {
		t.Errorf("state tree lacks %s", stateBlobName)
	}
	desc, ok := files["patches/u"]
	if !ok {
		t.Fatal("state tree lacks patches/u")
	}
	blob, err := r.ReadBlob(desc.BlobHash)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if got := string(blob.Data); got != "commit "+string(u)+"\n\nunapplied one\n" {
		t.Errorf("patch description = %q", got)
	}
}

func TestFromTreeRejectsMissingCommits(t *testing.T) {
	r, s := setupStack(t)
	st := s.State()
	st.Unapplied = append(st.Unapplied, "lost")
	st.Patches["lost"] = PatchState{Commit: object.Hash(bytes.Repeat([]byte("0"), 64))}
	tree, err := st.writeTree(r)
	if err != nil {
		t.Fatalf("writeTree: %v", err)
	}
	_, err = FromTree(r, tree)
	var de *DecodeError
	if !errors.As(err, &de) || Kind(err) != KindStore {
		t.Fatalf("FromTree err = %v, want *DecodeError", err)
	}

	empty, err := r.EmptyTree()
	if err != nil {
		t.Fatalf("EmptyTree: %v", err)
	}
	if _, err := FromTree(r, empty); !errors.As(err, &de) {
		t.Errorf("FromTree(empty) err = %v", err)
	}
}

func TestCorruptStateFailsLoad(t *testing.T) {
	r, s := setupStack(t)
	empty, err := r.EmptyTree()
	if err != nil {
		t.Fatalf("EmptyTree: %v", err)
	}
	bad, err := r.NewCommit(empty, []object.Hash{s.BranchHead()}, "bad\n", repo.CommitOptions{})
	if err != nil {
		t.Fatalf("NewCommit: %v", err)
	}
	if err := r.ForceUpdateRef(StateRefName("main"), bad, "corrupt"); err != nil {
		t.Fatalf("ForceUpdateRef: %v", err)
	}
	_, err = FromBranch(r, "", RequireInitialized)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("FromBranch err = %v, want *DecodeError", err)
	}
}

func TestLegacyStateUpgrade(t *testing.T) {
	r := newRepo(t)
	base := commitFiles(t, r, "base", map[string]string{"a.txt": "a\n"})
	p1 := commitFiles(t, r, "p1", map[string]string{"p1.txt": "1\n"})

	legacyJSON := fmt.Sprintf(`{"version":4,"prev":null,"head":%q,"applied":["p1"],"unapplied":[],"hidden":[],"patches":{"p1":{"oid":%q}}}`, p1, p1)
	blob, err := r.WriteBlob(&object.Blob{Data: []byte(legacyJSON)})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	tree, err := r.BuildTree([]repo.TreeFileEntry{{Path: legacyBlobName, BlobHash: blob, Mode: object.TreeModeFile}})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	legacy, err := r.NewCommit(tree, []object.Hash{p1}, "legacy\n", repo.CommitOptions{})
	if err != nil {
		t.Fatalf("NewCommit: %v", err)
	}
	if err := r.ForceUpdateRef(StateRefName("main"), legacy, "legacy"); err != nil {
		t.Fatalf("ForceUpdateRef: %v", err)
	}

	s, err := FromBranch(r, "", RequireInitialized)
	if err != nil {
		t.Fatalf("FromBranch: %v", err)
	}
	if s.StateCommit() == legacy || stateRef(t, r) != s.StateCommit() {
		t.Fatal("legacy state not rewritten")
	}
	if !equal(s.Applied(), names("p1")) || s.Base() != base || s.State().Prev != legacy {
		t.Errorf("upgraded stack applied %v base %s prev %s", s.Applied(), s.Base().Short(), s.State().Prev.Short())
	}
	tree, err = r.CommitTree(s.StateCommit())
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	if _, legacyFlag, err := fromTree(r, tree); err != nil || legacyFlag {
		t.Errorf("upgraded tree legacy=%v err=%v", legacyFlag, err)
	}
	if !r.RefExists(PatchRefName("main", "p1")) {
		t.Error("patch ref not created on upgrade")
	}

	entries, err := s.Log(0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 2 || entries[1].ID != legacy {
		t.Errorf("log after upgrade = %d entries", len(entries))
	}

	again, err := FromBranch(r, "", RequireInitialized)
	if err != nil || again.StateCommit() != s.StateCommit() {
		t.Errorf("second load rewrote the state: %v", err)
	}
}

func TestPatchIsEmpty(t *testing.T) {
	r, s := setupStack(t)
	same := patchCommit(t, r, s.Base(), "nothing", nil)
	changed := patchCommit(t, r, s.Base(), "something", map[string]string{"x": "x\n"})
	for h, want := range map[object.Hash]bool{same: true, changed: false} {
		got, err := PatchState{Commit: h}.IsEmpty(r)
		if err != nil || got != want {
			t.Errorf("IsEmpty(%s) = %v, %v; want %v", h.Short(), got, err, want)
		}
	}
}
