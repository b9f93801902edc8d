package stack

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// ConflictPolicy decides what Execute does when a push left conflicts.
type ConflictPolicy int

const (
	// ConflictHalt publishes the progress made before the conflicting
	// patch and leaves its conflict markers in the worktree.
	ConflictHalt ConflictPolicy = iota
	// ConflictAbort publishes nothing and leaves the worktree untouched.
	ConflictAbort
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictHalt:
		return "halt"
	case ConflictAbort:
		return "abort"
	}
	return fmt.Sprintf("ConflictPolicy(%d)", int(p))
}

// ParseConflictPolicy parses "halt" or "abort".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "halt":
		return ConflictHalt, nil
	case "abort":
		return ConflictAbort, nil
	}
	return 0, fmt.Errorf("unknown conflict policy %q (want halt or abort)", s)
}

// TransactionState is where a transaction is in its lifecycle.
type TransactionState int

const (
	StateBuilding TransactionState = iota
	StateValidating
	StateConflicted
	StateCommitted
)

func (s TransactionState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateValidating:
		return "validating"
	case StateConflicted:
		return "conflicted"
	case StateCommitted:
		return "committed"
	}
	return fmt.Sprintf("TransactionState(%d)", int(s))
}

// TransactionBuilder configures a transaction. The zero configuration
// touches neither index nor worktree, refuses a moved branch head, keeps
// local changes, halts on conflicts and prints nothing.
type TransactionBuilder struct {
	stack               *Stack
	useIndexAndWorktree bool
	discardChanges      bool
	allowBadHead        bool
	conflictPolicy      ConflictPolicy
	output              io.Writer
	log                 *zap.Logger
	signer              object.CommitSigner
}

func newTransactionBuilder(s *Stack) *TransactionBuilder {
	return &TransactionBuilder{
		stack:  s,
		output: io.Discard,
		log:    s.log,
		signer: s.signer,
	}
}

// UseIndexAndWorktree makes Execute check the new top out into the index
// and worktree.
func (b *TransactionBuilder) UseIndexAndWorktree(v bool) *TransactionBuilder {
	b.useIndexAndWorktree = v
	return b
}

// DiscardChanges resets the index and worktree to the new top, dropping
// local modifications, instead of carrying them across the checkout.
func (b *TransactionBuilder) DiscardChanges(v bool) *TransactionBuilder {
	b.discardChanges = v
	return b
}

// AllowBadHead skips the head/top mismatch check.
func (b *TransactionBuilder) AllowBadHead(v bool) *TransactionBuilder {
	b.allowBadHead = v
	return b
}

func (b *TransactionBuilder) ConflictPolicy(p ConflictPolicy) *TransactionBuilder {
	b.conflictPolicy = p
	return b
}

// WithOutput sets where progress lines go.
func (b *TransactionBuilder) WithOutput(w io.Writer) *TransactionBuilder {
	if w == nil {
		w = io.Discard
	}
	b.output = w
	return b
}

func (b *TransactionBuilder) WithLogger(l *zap.Logger) *TransactionBuilder {
	b.log = l
	return b
}

// WithSigner overrides the stack's commit signer for this transaction.
func (b *TransactionBuilder) WithSigner(signer object.CommitSigner) *TransactionBuilder {
	b.signer = signer
	return b
}

// Transact runs fn against a new transaction. An error from fn is kept and
// returned by Execute; a push halted by a conflict is not an error here,
// it is reported by Execute according to the conflict policy.
func (b *TransactionBuilder) Transact(fn func(*Transaction) error) *ExecuteContext {
	tx := newTransaction(b)
	if !b.allowBadHead {
		if err := b.stack.CheckHeadTopMismatch(); err != nil {
			return &ExecuteContext{tx: tx, err: err}
		}
	}
	if err := fn(tx); err != nil {
		if tx.conflict == nil || !errors.Is(err, ErrTransactionHalted) {
			return &ExecuteContext{tx: tx, err: err}
		}
	}
	return &ExecuteContext{tx: tx}
}

// ExecuteContext holds a built transaction ready to be published.
type ExecuteContext struct {
	tx  *Transaction
	err error
}

// Transaction returns the transaction being executed.
func (c *ExecuteContext) Transaction() *Transaction { return c.tx }

// Execute validates and publishes the transaction. See Transaction.
func (c *ExecuteContext) Execute(message string) (*Stack, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.tx.execute(message)
}

// Transaction stages changes to a stack. Operations change only the
// in-memory lists; they may write new commits but never move references.
// Nothing is visible to other processes until Execute publishes it.
type Transaction struct {
	b     *TransactionBuilder
	stack *Stack
	store Store

	applied   []patch.Name
	unapplied []patch.Name
	hidden    []patch.Name
	patches   map[patch.Name]PatchState
	base      object.Hash
	top       object.Hash

	state        TransactionState
	conflict     *ConflictError
	conflictTree object.Hash
	conflicts    []repo.Conflict
	events       []event
}

func newTransaction(b *TransactionBuilder) *Transaction {
	st := b.stack.state.Clone()
	t := &Transaction{
		b:         b,
		stack:     b.stack,
		store:     b.stack.store,
		applied:   st.Applied,
		unapplied: st.Unapplied,
		hidden:    st.Hidden,
		patches:   st.Patches,
		base:      b.stack.base,
	}
	t.top = t.topAt(len(t.applied))
	return t
}

// topAt returns the commit that would be on top with only the first n
// applied patches.
func (t *Transaction) topAt(n int) object.Hash {
	if n == 0 {
		return t.base
	}
	return t.patches[t.applied[n-1]].Commit
}

func (t *Transaction) Stack() *Stack { return t.stack }

func (t *Transaction) State() TransactionState { return t.state }

// Conflict returns the conflict that halted the transaction, if any.
func (t *Transaction) Conflict() *ConflictError { return t.conflict }

func (t *Transaction) Applied() []patch.Name { return append([]patch.Name(nil), t.applied...) }

func (t *Transaction) Unapplied() []patch.Name { return append([]patch.Name(nil), t.unapplied...) }

func (t *Transaction) Hidden() []patch.Name { return append([]patch.Name(nil), t.hidden...) }

// All returns every patch name, applied first.
func (t *Transaction) All() []patch.Name {
	all := append(t.Applied(), t.unapplied...)
	return append(all, t.hidden...)
}

func (t *Transaction) Has(name patch.Name) bool {
	_, ok := t.patches[name]
	return ok
}

func (t *Transaction) Patch(name patch.Name) (PatchState, bool) {
	p, ok := t.patches[name]
	return p, ok
}

// Top is the commit at the top of the staged applied list, or the base.
func (t *Transaction) Top() object.Hash { return t.top }

func (t *Transaction) Base() object.Hash { return t.base }

// NewCommit writes a commit with the transaction's signer.
func (t *Transaction) NewCommit(tree object.Hash, parents []object.Hash, message string, opts repo.CommitOptions) (object.Hash, error) {
	if opts.Signer == nil {
		opts.Signer = t.b.signer
	}
	return t.store.NewCommit(tree, parents, message, opts)
}

func (t *Transaction) checkBuilding() error {
	if t.conflict != nil {
		return ErrTransactionHalted
	}
	if t.state != StateBuilding {
		return fmt.Errorf("transaction is %v", t.state)
	}
	return nil
}

// rewriteCommit copies c onto a new tree and parent, keeping its author,
// author date and message.
func (t *Transaction) rewriteCommit(c *object.CommitObj, tree, parent object.Hash) (object.Hash, error) {
	return t.NewCommit(tree, []object.Hash{parent}, c.Message, repo.CommitOptions{
		Author:     c.Author,
		AuthorTime: c.AuthorTime(),
		Encoding:   c.Encoding,
	})
}

type eventKind int

const (
	evPush eventKind = iota
	evPop
	evNew
	evDelete
	evHide
	evUnhide
	evRename
	evUpdate
	evSquash
	evConflict
)

type event struct {
	kind   eventKind
	name   patch.Name
	detail string
}

func (t *Transaction) record(kind eventKind, name patch.Name, detail string) {
	t.events = append(t.events, event{kind: kind, name: name, detail: detail})
}

func removeName(names []patch.Name, n patch.Name) []patch.Name {
	out := names[:0:0]
	for _, x := range names {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}

func indexName(names []patch.Name, n patch.Name) int {
	for i, x := range names {
		if x == n {
			return i
		}
	}
	return -1
}
