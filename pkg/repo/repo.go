package repo

import (
	"github.com/odvcencio/gotstack/pkg/object"
)

// Repo represents an opened Got repository.
type Repo struct {
	RootDir string        // working directory root
	GotDir  string        // .got/ directory
	Store   *object.Store // content-addressed object store
}

// HasObject reports whether h is present in the object store.
func (r *Repo) HasObject(h object.Hash) bool { return r.Store.Has(h) }

func (r *Repo) ReadCommit(h object.Hash) (*object.CommitObj, error) { return r.Store.ReadCommit(h) }

func (r *Repo) WriteCommit(c *object.CommitObj) (object.Hash, error) { return r.Store.WriteCommit(c) }

func (r *Repo) ReadTree(h object.Hash) (*object.TreeObj, error) { return r.Store.ReadTree(h) }

func (r *Repo) WriteTree(t *object.TreeObj) (object.Hash, error) { return r.Store.WriteTree(t) }

func (r *Repo) ReadBlob(h object.Hash) (*object.Blob, error) { return r.Store.ReadBlob(h) }

func (r *Repo) WriteBlob(b *object.Blob) (object.Hash, error) { return r.Store.WriteBlob(b) }
