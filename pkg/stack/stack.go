// Package stack implements patch stacks: a named queue of commits kept on
// top of a branch, its snapshots in the object store, and the transactions
// that change it.
package stack

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// InitPolicy says what FromBranch does about a branch without a stack.
type InitPolicy int

const (
	// AutoInitialize creates the stack if it does not exist yet.
	AutoInitialize InitPolicy = iota
	// MustInitialize creates the stack and fails if it already exists.
	MustInitialize
	// RequireInitialized fails if the stack does not exist.
	RequireInitialized
	// AllowUninitialized returns an empty, read-only stack if it does not
	// exist. Transactions on such a stack are a programming error.
	AllowUninitialized
)

func (p InitPolicy) String() string {
	switch p {
	case AutoInitialize:
		return "auto-initialize"
	case MustInitialize:
		return "must-initialize"
	case RequireInitialized:
		return "require-initialized"
	case AllowUninitialized:
		return "allow-uninitialized"
	}
	return fmt.Sprintf("InitPolicy(%d)", int(p))
}

// Stack binds one branch to its current stack state.
type Stack struct {
	store  Store
	log    *zap.Logger
	signer object.CommitSigner
	cache  *stateCache

	branchName  string
	branchHead  object.Hash
	stateRef    string
	stateCommit object.Hash
	base        object.Hash
	state       *StackState
	initialized bool
}

// Option configures FromBranch.
type Option func(*Stack)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stack) { s.log = l }
}

// WithSigner signs every patch and state commit the stack writes. Without
// it the key named by stgit.signingkey is used, if any.
func WithSigner(signer object.CommitSigner) Option {
	return func(s *Stack) { s.signer = signer }
}

// FromBranch loads the stack of branch ("" for the current branch),
// creating it or not according to policy. Legacy state formats are
// upgraded first, and patch references are reconciled with the loaded
// state before returning.
func FromBranch(store Store, branch string, policy InitPolicy, opts ...Option) (*Stack, error) {
	s := &Stack{store: store, log: zap.NewNop(), cache: newStateCache()}
	for _, opt := range opts {
		opt(s)
	}

	name, head, err := store.ResolveBranch(branch)
	if err != nil {
		return nil, fmt.Errorf("open stack: %w", err)
	}
	s.branchName = name
	s.branchHead = head
	s.stateRef = StateRefName(name)
	s.log = s.log.With(zap.String("branch", name))

	if s.signer == nil {
		if s.signer, err = signerFromConfig(store); err != nil {
			return nil, fmt.Errorf("open stack: %w", err)
		}
	}
	if err := upgrade(store, name, s.log, s.signer); err != nil {
		return nil, err
	}

	stateCommit, err := store.ResolveRef(s.stateRef)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open stack: %w", err)
	}

	if exists {
		if policy == MustInitialize {
			return nil, fmt.Errorf("branch %q: %w", name, ErrAlreadyInitialized)
		}
		state, err := s.cache.load(store, stateCommit)
		if err != nil {
			return nil, err
		}
		s.state = state
		s.stateCommit = stateCommit
		s.initialized = true
	} else {
		switch policy {
		case RequireInitialized:
			return nil, fmt.Errorf("branch %q: %w", name, ErrNotInitialized)
		case AutoInitialize, MustInitialize:
			state := NewState(head)
			id, err := state.Commit(store, CommitOptions{
				Ref:     s.stateRef,
				Message: "initialize",
				Signer:  s.signer,
			})
			if err != nil {
				return nil, fmt.Errorf("initialize stack: %w", err)
			}
			s.state = state
			s.stateCommit = id
			s.initialized = true
			s.log.Info("initialized stack", zap.String("state", id.Short()))
		case AllowUninitialized:
			s.state = NewState(head)
		default:
			panic(fmt.Sprintf("stack: unhandled %v", policy))
		}
	}

	if s.base, err = computeBase(store, s.state, head); err != nil {
		return nil, err
	}
	report, err := reconcilePatchRefs(store, name, s.state, s.log)
	if err != nil {
		return nil, err
	}
	if !report.Empty() {
		s.log.Debug("reconciled patch refs",
			zap.Int("updated", len(report.Updated)),
			zap.Int("deleted", len(report.Deleted)),
			zap.Int("created", len(report.Created)))
	}
	return s, nil
}

// computeBase returns the parent of the first applied patch, or
// branchHead when nothing is applied.
func computeBase(store Store, state *StackState, branchHead object.Hash) (object.Hash, error) {
	if len(state.Applied) == 0 {
		return branchHead, nil
	}
	first := state.Patches[state.Applied[0]].Commit
	c, err := store.ReadCommit(first)
	if err != nil {
		return "", fmt.Errorf("stack base: %w", err)
	}
	if c.Parent() == "" {
		return "", fmt.Errorf("stack base: patch %q has no parent commit", state.Applied[0])
	}
	return c.Parent(), nil
}

func signerFromConfig(store Store) (object.CommitSigner, error) {
	cfg, err := store.ReadConfig()
	if err != nil {
		return nil, err
	}
	keyPath, ok := cfg.Get("stgit.signingkey")
	if !ok || keyPath == "" {
		return nil, nil
	}
	if keyPath, err = homedir.Expand(keyPath); err != nil {
		return nil, fmt.Errorf("stgit.signingkey: %w", err)
	}
	return object.NewSSHSigner(keyPath)
}

// NameLengthLimit returns stgit.namelength, or patch.DefaultLengthLimit.
func NameLengthLimit(store Store) int {
	cfg, err := store.ReadConfig()
	if err != nil {
		return patch.DefaultLengthLimit
	}
	n, err := cfg.GetInt("stgit.namelength", patch.DefaultLengthLimit)
	if err != nil || n < 0 {
		return patch.DefaultLengthLimit
	}
	return n
}

func (s *Stack) BranchName() string { return s.branchName }

func (s *Stack) BranchRef() string { return repo.BranchRef(s.branchName) }

// StateRef is the reference holding this stack's state commit.
func (s *Stack) StateRef() string { return s.stateRef }

// StateCommit is the state commit the stack was loaded from, "" when
// uninitialized.
func (s *Stack) StateCommit() object.Hash { return s.stateCommit }

func (s *Stack) BranchHead() object.Hash { return s.branchHead }

// Base is the commit the first applied patch sits on.
func (s *Stack) Base() object.Hash { return s.base }

// Top is the commit of the topmost applied patch, or the recorded head.
func (s *Stack) Top() object.Hash { return s.state.Top() }

// Head is the branch tip recorded in the state.
func (s *Stack) Head() object.Hash { return s.state.Head }

func (s *Stack) Applied() []patch.Name { return append([]patch.Name(nil), s.state.Applied...) }

func (s *Stack) Unapplied() []patch.Name { return append([]patch.Name(nil), s.state.Unapplied...) }

func (s *Stack) Hidden() []patch.Name { return append([]patch.Name(nil), s.state.Hidden...) }

func (s *Stack) All() []patch.Name { return s.state.All() }

// Patch returns the entry for name.
func (s *Stack) Patch(name patch.Name) (PatchState, bool) {
	p, ok := s.state.Patches[name]
	return p, ok
}

func (s *Stack) HasPatch(name patch.Name) bool { return s.state.Has(name) }

// PatchChanges lists the files the patch changes relative to its parent,
// sorted by path.
func (s *Stack) PatchChanges(name patch.Name) ([]repo.TreeChange, error) {
	ps, ok := s.state.Patches[name]
	if !ok {
		return nil, unknownPatch(name)
	}
	c, err := s.store.ReadCommit(ps.Commit)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", name, err)
	}
	var parentTree object.Hash
	if parent := c.Parent(); parent != "" {
		if parentTree, err = s.store.CommitTree(parent); err != nil {
			return nil, fmt.Errorf("patch %s: %w", name, err)
		}
	}
	return s.store.DiffTrees(parentTree, c.TreeHash)
}

func (s *Stack) IsInitialized() bool { return s.initialized }

// State returns a copy of the current snapshot.
func (s *Stack) State() *StackState { return s.state.Clone() }

func (s *Stack) Store() Store { return s.store }

func (s *Stack) Logger() *zap.Logger { return s.log }

// PatchRefName is the per-patch reference of name on this stack's branch.
func (s *Stack) PatchRefName(name patch.Name) string { return PatchRefName(s.branchName, name) }

// Deinitialize removes the state reference, every patch reference and the
// branch's stack configuration. The commits themselves are left to garbage
// collection.
func (s *Stack) Deinitialize() error {
	if !s.initialized {
		return fmt.Errorf("branch %q: %w", s.branchName, ErrNotInitialized)
	}
	refs, err := s.store.ListRefs(PatchRefPrefix(s.branchName))
	if err != nil {
		return fmt.Errorf("deinitialize: %w", err)
	}
	for _, name := range repo.SortedRefNames(refs) {
		if err := s.store.DeleteRef(name); err != nil {
			return fmt.Errorf("deinitialize: %w", err)
		}
	}
	if err := s.store.DeleteRef(s.stateRef); err != nil {
		return fmt.Errorf("deinitialize: %w", err)
	}
	// A missing config section is fine.
	if err := s.store.UpdateConfig(func(cfg *repo.Config) error {
		cfg.RemoveSection("branch." + s.branchName + ".stgit")
		return nil
	}); err != nil {
		s.log.Debug("remove stack config", zap.Error(err))
	}
	s.initialized = false
	s.log.Info("deinitialized stack")
	return nil
}

func protectKey(branch string) string { return "branch." + branch + ".stgit.protect" }

// IsProtected reports branch.<name>.stgit.protect.
func (s *Stack) IsProtected() (bool, error) {
	cfg, err := s.store.ReadConfig()
	if err != nil {
		return false, err
	}
	return cfg.GetBool(protectKey(s.branchName), false)
}

// SetProtected sets or clears the protect flag.
func (s *Stack) SetProtected(protect bool) error {
	return s.store.UpdateConfig(func(cfg *repo.Config) error {
		if protect {
			return cfg.Set(protectKey(s.branchName), true)
		}
		cfg.Unset(protectKey(s.branchName))
		return nil
	})
}

// IsHeadTop reports whether the branch tip is the head the state recorded.
func (s *Stack) IsHeadTop() bool { return s.state.Head == s.branchHead }

// CheckHeadTopMismatch fails when patches are applied and the branch moved
// without going through the stack.
func (s *Stack) CheckHeadTopMismatch() error {
	if len(s.state.Applied) == 0 || s.IsHeadTop() {
		return nil
	}
	return fmt.Errorf("%w: the branch was modified outside the stack; run repair", ErrHeadTopMismatch)
}

const externalModsMessage = "external modifications\n\nModifications by tools other than stg.\n"

// LogExternalMods records the current branch tip in a new state without
// changing the patch lists. The publish is guarded by the state commit the
// stack was loaded from.
func (s *Stack) LogExternalMods(message string) (*Stack, error) {
	if !s.initialized {
		return nil, fmt.Errorf("branch %q: %w", s.branchName, ErrNotInitialized)
	}
	if message == "" {
		message = externalModsMessage
	}
	state := s.state.AdvanceHead(s.branchHead, s.stateCommit)
	id, err := state.Commit(s.store, CommitOptions{
		Ref:         s.stateRef,
		ExpectedOld: s.stateCommit,
		Message:     message,
		Signer:      s.signer,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("logged external modifications", zap.String("head", s.branchHead.Short()))
	next := *s
	next.state = state
	next.stateCommit = id
	return &next, nil
}

// ClearStateLog drops the history of the stack by publishing the current
// state with no previous state.
func (s *Stack) ClearStateLog(reason string) error {
	if !s.initialized {
		return fmt.Errorf("branch %q: %w", s.branchName, ErrNotInitialized)
	}
	state := s.state.Clone()
	state.Prev = ""
	id, err := state.Commit(s.store, CommitOptions{
		Ref:         s.stateRef,
		ExpectedOld: s.stateCommit,
		Message:     reason,
		Signer:      s.signer,
	})
	if err != nil {
		return err
	}
	s.state = state
	s.stateCommit = id
	return nil
}

// LogEntry is one state in the stack's history.
type LogEntry struct {
	ID      object.Hash
	Message string
	State   *StackState
}

// Log walks the previous-state chain from the current state, newest first.
// limit <= 0 returns the whole history.
func (s *Stack) Log(limit int) ([]LogEntry, error) {
	var entries []LogEntry
	for id := s.stateCommit; id != ""; {
		if limit > 0 && len(entries) >= limit {
			break
		}
		c, err := s.store.ReadCommit(id)
		if err != nil {
			return nil, fmt.Errorf("stack log: %w", err)
		}
		state, err := s.cache.load(s.store, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{ID: id, Message: c.Message, State: state})
		id = state.Prev
	}
	return entries, nil
}

// SetupTransaction starts a transaction. Calling it on an uninitialized
// stack is a programming error and panics.
func (s *Stack) SetupTransaction() *TransactionBuilder {
	if !s.initialized {
		panic("stack: transaction on uninitialized stack of branch " + s.branchName)
	}
	return newTransactionBuilder(s)
}

// reload returns a stack reflecting a state just published by this
// process, without rereading the state reference.
func (s *Stack) reload(state *StackState, stateCommit, branchHead object.Hash) (*Stack, error) {
	next := *s
	next.state = state
	next.stateCommit = stateCommit
	next.branchHead = branchHead
	base, err := computeBase(s.store, state, branchHead)
	if err != nil {
		return nil, err
	}
	next.base = base
	return &next, nil
}
