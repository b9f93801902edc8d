package stack

import (
	"github.com/odvcencio/gotstack/pkg/diff3"
	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/repo"
)

// Store is the part of a repository the stack engine uses. *repo.Repo
// satisfies it.
type Store interface {
	HasObject(h object.Hash) bool
	ReadCommit(h object.Hash) (*object.CommitObj, error)
	ReadTree(h object.Hash) (*object.TreeObj, error)
	ReadBlob(h object.Hash) (*object.Blob, error)
	WriteBlob(b *object.Blob) (object.Hash, error)
	BuildTree(files []repo.TreeFileEntry) (object.Hash, error)
	TreeFiles(h object.Hash) (map[string]repo.TreeFileEntry, error)
	CommitTree(h object.Hash) (object.Hash, error)
	DiffTrees(a, b object.Hash) ([]repo.TreeChange, error)
	NewCommit(tree object.Hash, parents []object.Hash, message string, opts repo.CommitOptions) (object.Hash, error)

	ReadRef(name string) (repo.RefValue, error)
	ResolveRef(name string) (object.Hash, error)
	UpdateRefCAS(name string, h, expectedOld object.Hash, reason string) error
	ForceUpdateRef(name string, h object.Hash, reason string) error
	DeleteRef(name string) error
	ListRefs(prefix string) (map[string]repo.RefValue, error)
	ResolveBranch(name string) (string, object.Hash, error)

	ReadConfig() (*repo.Config, error)
	UpdateConfig(fn func(*repo.Config) error) error

	MergeTrees(base, ours, theirs object.Hash, labels diff3.Labels) (*repo.TreeMergeResult, error)
	CheckoutTree(from, to object.Hash, opts repo.CheckoutOptions) error
	ResetHard(tree object.Hash) error
	WriteConflicts(conflicts []repo.Conflict) error
}

var _ Store = (*repo.Repo)(nil)
