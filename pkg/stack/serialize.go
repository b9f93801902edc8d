package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

const (
	// FormatVersion is the on-disk version written by Commit.
	FormatVersion = 5
	legacyVersion = 4

	stateBlobName  = "stack.cbor"
	legacyBlobName = "stack.json"
	patchesDir     = "patches"
)

// encMode writes Core Deterministic CBOR so equal states encode to equal
// bytes and therefore equal blob ids.
var encMode cbor.EncMode

// decMode rejects duplicate map keys; a name listed twice in the patches
// map is corruption, not something to silently merge.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stack: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic("stack: CBOR decoder initialization failed: " + err.Error())
	}
}

// stateDoc is the stored form of a StackState. Lists are pointers so a
// missing list can be told apart from an empty one.
type stateDoc struct {
	Version   int                 `cbor:"version" json:"version"`
	Prev      *string             `cbor:"prev" json:"prev"`
	Head      string              `cbor:"head" json:"head"`
	Applied   *[]string           `cbor:"applied" json:"applied"`
	Unapplied *[]string           `cbor:"unapplied" json:"unapplied"`
	Hidden    *[]string           `cbor:"hidden" json:"hidden"`
	Patches   map[string]patchDoc `cbor:"patches" json:"patches"`
}

type patchDoc struct {
	OID string `cbor:"oid" json:"oid"`
}

func toDoc(s *StackState) *stateDoc {
	names := func(ns []patch.Name) *[]string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = string(n)
		}
		return &out
	}
	doc := &stateDoc{
		Version:   FormatVersion,
		Head:      string(s.Head),
		Applied:   names(s.Applied),
		Unapplied: names(s.Unapplied),
		Hidden:    names(s.Hidden),
		Patches:   make(map[string]patchDoc, len(s.Patches)),
	}
	if s.Prev != "" {
		prev := string(s.Prev)
		doc.Prev = &prev
	}
	for n, p := range s.Patches {
		doc.Patches[string(n)] = patchDoc{OID: string(p.Commit)}
	}
	return doc
}

func fromDoc(doc *stateDoc) (*StackState, error) {
	if doc.Applied == nil || doc.Unapplied == nil || doc.Hidden == nil {
		return nil, fmt.Errorf("%w: missing patch list", ErrInvalidState)
	}
	if doc.Patches == nil {
		return nil, fmt.Errorf("%w: missing patches map", ErrInvalidState)
	}
	names := func(ss []string) []patch.Name {
		out := make([]patch.Name, len(ss))
		for i, s := range ss {
			out[i] = patch.Name(s)
		}
		return out
	}
	s := &StackState{
		Head:      object.Hash(doc.Head),
		Applied:   names(*doc.Applied),
		Unapplied: names(*doc.Unapplied),
		Hidden:    names(*doc.Hidden),
		Patches:   make(map[patch.Name]PatchState, len(doc.Patches)),
	}
	if doc.Prev != nil {
		s.Prev = object.Hash(*doc.Prev)
	}
	for n, p := range doc.Patches {
		s.Patches[patch.Name(n)] = PatchState{Commit: object.Hash(p.OID)}
	}
	return s, nil
}

// encodeState returns the CBOR bytes of s.
func encodeState(s *StackState) ([]byte, error) {
	return encMode.Marshal(toDoc(s))
}

func decodeState(data []byte) (*StackState, error) {
	var doc stateDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported stack format version %d", doc.Version)
	}
	return fromDoc(&doc)
}

func decodeLegacyState(data []byte) (*StackState, error) {
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != legacyVersion {
		return nil, fmt.Errorf("unsupported legacy stack format version %d", doc.Version)
	}
	return fromDoc(&doc)
}

// FromTree decodes the snapshot stored in tree and checks that it is
// consistent and that every commit it names exists.
func FromTree(store Store, tree object.Hash) (*StackState, error) {
	s, _, err := fromTree(store, tree)
	return s, err
}

// fromTree also reports whether the tree used the legacy encoding.
func fromTree(store Store, tree object.Hash) (*StackState, bool, error) {
	t, err := store.ReadTree(tree)
	if err != nil {
		return nil, false, &DecodeError{Object: tree, Err: err}
	}
	legacy := false
	entry, ok := t.Lookup(stateBlobName)
	if !ok {
		if entry, ok = t.Lookup(legacyBlobName); !ok {
			return nil, false, &DecodeError{Object: tree, Err: errors.New("no stack metadata in tree")}
		}
		legacy = true
	}
	if entry.IsDir {
		return nil, false, &DecodeError{Object: tree, Err: fmt.Errorf("%s is a directory", entry.Name)}
	}
	blob, err := store.ReadBlob(entry.BlobHash)
	if err != nil {
		return nil, false, &DecodeError{Object: tree, Err: err}
	}
	var s *StackState
	if legacy {
		s, err = decodeLegacyState(blob.Data)
	} else {
		s, err = decodeState(blob.Data)
	}
	if err != nil {
		return nil, false, &DecodeError{Object: tree, Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, false, &DecodeError{Object: tree, Err: err}
	}
	if !store.HasObject(s.Head) {
		return nil, false, &DecodeError{Object: tree, Err: fmt.Errorf("head commit %s missing", s.Head.Short())}
	}
	for _, n := range s.All() {
		if c := s.Patches[n].Commit; !store.HasObject(c) {
			return nil, false, &DecodeError{Object: tree, Err: fmt.Errorf("patch %q: commit %s missing", n, c.Short())}
		}
	}
	return s, legacy, nil
}

// FromCommit decodes the snapshot recorded by a state commit.
func FromCommit(store Store, commit object.Hash) (*StackState, error) {
	tree, err := store.CommitTree(commit)
	if err != nil {
		return nil, &DecodeError{Object: commit, Err: err}
	}
	return FromTree(store, tree)
}

// CommitOptions controls how a snapshot is written by Commit.
type CommitOptions struct {
	// Ref, when set, is moved to the new state commit with a
	// compare-and-swap against ExpectedOld ("" means must not exist).
	Ref         string
	ExpectedOld object.Hash
	Message     string
	Signer      object.CommitSigner
}

// Commit writes s as a state commit and optionally publishes it. The
// commit's parents are Prev (when set), Head, and the commits of unapplied
// and hidden patches, so every patch stays reachable from the state.
func (s *StackState) Commit(store Store, opts CommitOptions) (object.Hash, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	tree, err := s.writeTree(store)
	if err != nil {
		return "", fmt.Errorf("write stack state: %w", err)
	}

	parents := make([]object.Hash, 0, 2+len(s.Unapplied)+len(s.Hidden))
	seen := make(map[object.Hash]bool)
	addParent := func(h object.Hash) {
		if h != "" && !seen[h] {
			seen[h] = true
			parents = append(parents, h)
		}
	}
	addParent(s.Prev)
	addParent(s.Head)
	for _, n := range s.Unapplied {
		addParent(s.Patches[n].Commit)
	}
	for _, n := range s.Hidden {
		addParent(s.Patches[n].Commit)
	}

	message := opts.Message
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	id, err := store.NewCommit(tree, parents, message, repo.CommitOptions{Signer: opts.Signer})
	if err != nil {
		return "", fmt.Errorf("write stack state: %w", err)
	}
	if opts.Ref == "" {
		return id, nil
	}
	if err := store.UpdateRefCAS(opts.Ref, id, opts.ExpectedOld, reflogReason(opts.Message)); err != nil {
		if errors.Is(err, repo.ErrRefCASMismatch) {
			return "", &ConcurrentModificationError{Ref: opts.Ref, Err: err}
		}
		return "", fmt.Errorf("publish stack state: %w", err)
	}
	return id, nil
}

// writeTree stores the CBOR document plus one small text blob per patch.
func (s *StackState) writeTree(store Store) (object.Hash, error) {
	data, err := encodeState(s)
	if err != nil {
		return "", err
	}
	stateBlob, err := store.WriteBlob(&object.Blob{Data: data})
	if err != nil {
		return "", err
	}
	files := []repo.TreeFileEntry{{Path: stateBlobName, BlobHash: stateBlob, Mode: object.TreeModeFile}}

	names := s.All()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		commit := s.Patches[n].Commit
		desc := "commit " + string(commit) + "\n"
		if c, err := store.ReadCommit(commit); err == nil {
			desc += "\n" + c.Subject() + "\n"
		}
		h, err := store.WriteBlob(&object.Blob{Data: []byte(desc)})
		if err != nil {
			return "", err
		}
		files = append(files, repo.TreeFileEntry{Path: patchesDir + "/" + string(n), BlobHash: h, Mode: object.TreeModeFile})
	}
	return store.BuildTree(files)
}

func reflogReason(message string) string {
	subject, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return subject
}

// stateCache memoizes decoded snapshots by state commit id. Commits are
// immutable, so entries never go stale.
type stateCache struct {
	mu     sync.Mutex
	states map[object.Hash]*StackState
}

func newStateCache() *stateCache {
	return &stateCache{states: make(map[object.Hash]*StackState)}
}

// load returns a private copy of the snapshot at commit.
func (c *stateCache) load(store Store, commit object.Hash) (*StackState, error) {
	c.mu.Lock()
	s, ok := c.states[commit]
	c.mu.Unlock()
	if ok {
		return s.Clone(), nil
	}
	s, err := FromCommit(store, commit)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.states[commit] = s
	c.mu.Unlock()
	return s.Clone(), nil
}
