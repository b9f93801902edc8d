package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// ErrLocalChanges is returned by CheckoutTree when a path it would touch
// has uncommitted modifications.
var ErrLocalChanges = errors.New("local changes would be overwritten")

// CheckoutOptions tunes CheckoutTree.
type CheckoutOptions struct {
	// Force overwrites local modifications in touched paths.
	Force bool
}

// LocalChangesError lists the paths that blocked a checkout.
type LocalChangesError struct {
	Paths []string
}

func (e *LocalChangesError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLocalChanges, strings.Join(e.Paths, ", "))
}

func (e *LocalChangesError) Is(target error) bool { return target == ErrLocalChanges }

// CheckoutTree moves the index and worktree from tree from to tree to.
// Only paths that differ between the two trees are touched; other local
// edits are carried along. Without Force, a touched path whose index entry
// or worktree file differs from from aborts the checkout before anything is
// written.
func (r *Repo) CheckoutTree(from, to object.Hash, opts CheckoutOptions) error {
	changes, err := r.DiffTrees(from, to)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	if !opts.Force {
		var blocked []string
		for _, ch := range changes {
			dirty, err := r.pathHasLocalChanges(stg, ch)
			if err != nil {
				return fmt.Errorf("checkout: %w", err)
			}
			if dirty {
				blocked = append(blocked, ch.Path)
			}
		}
		if len(blocked) > 0 {
			return fmt.Errorf("checkout: %w", &LocalChangesError{Paths: blocked})
		}
	} else {
		// Resolve stale conflicts left by an earlier halted operation in
		// favour of the target tree.
		toFiles, err := r.TreeFiles(to)
		if err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		for p, se := range stg.Entries {
			if !se.Conflict {
				continue
			}
			f, ok := toFiles[p]
			if !ok {
				delete(stg.Entries, p)
				continue
			}
			fresh, err := r.writeWorktreeFile(f)
			if err != nil {
				return fmt.Errorf("checkout: %w", err)
			}
			stg.Entries[p] = fresh
		}
	}

	for _, ch := range changes {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(ch.Path))
		if ch.Kind == ChangeDeleted {
			if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("checkout: remove %q: %w", ch.Path, err)
			}
			r.removeEmptyDirs(filepath.Dir(absPath), r.RootDir)
			delete(stg.Entries, ch.Path)
			continue
		}
		se, err := r.writeWorktreeFile(ch.New)
		if err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		stg.Entries[ch.Path] = se
	}

	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

// ResetHard makes index and worktree match tree exactly for every tracked
// path, discarding local changes.
func (r *Repo) ResetHard(tree object.Hash) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	files, err := r.TreeFiles(tree)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for p := range stg.Entries {
		if _, keep := files[p]; keep {
			continue
		}
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(p))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset: remove %q: %w", p, err)
		}
		r.removeEmptyDirs(filepath.Dir(absPath), r.RootDir)
	}
	next := &Staging{Entries: make(map[string]*StagingEntry, len(files))}
	for _, f := range files {
		se, err := r.writeWorktreeFile(f)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		next.Entries[f.Path] = se
	}
	return r.WriteStaging(next)
}

// WriteConflicts writes conflict-marked content to the worktree and flags
// each path as conflicted in the index.
func (r *Repo) WriteConflicts(conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("write conflicts: %w", err)
	}
	for _, c := range conflicts {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(c.Path))
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return fmt.Errorf("write conflicts: mkdir %q: %w", c.Path, err)
		}
		if err := os.WriteFile(absPath, c.Content, filePermFromMode(c.Mode)); err != nil {
			return fmt.Errorf("write conflicts: write %q: %w", c.Path, err)
		}
		blobHash, err := r.Store.WriteBlob(&object.Blob{Data: c.Content})
		if err != nil {
			return fmt.Errorf("write conflicts: blob %q: %w", c.Path, err)
		}
		stg.Entries[c.Path] = &StagingEntry{
			Path:     c.Path,
			BlobHash: blobHash,
			Mode:     normalizeFileMode(c.Mode),
			Conflict: true,
			Size:     -1,
		}
	}
	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("write conflicts: %w", err)
	}
	return nil
}

// pathHasLocalChanges reports whether the index or worktree state of the
// changed path differs from the checkout source.
func (r *Repo) pathHasLocalChanges(stg *Staging, ch TreeChange) (bool, error) {
	se, staged := stg.Entries[ch.Path]
	if ch.Kind == ChangeAdded {
		if staged {
			return se.BlobHash != ch.New.BlobHash, nil
		}
		// An untracked file in the way only matters if it differs.
		if _, err := os.Lstat(filepath.Join(r.RootDir, filepath.FromSlash(ch.Path))); os.IsNotExist(err) {
			return false, nil
		}
		return r.worktreeDiffers(ch.Path, ch.New.BlobHash, ch.New.Mode)
	}
	if !staged || se.Conflict || se.BlobHash != ch.Old.BlobHash || normalizeFileMode(se.Mode) != ch.Old.Mode {
		return true, nil
	}
	return r.worktreeDiffers(ch.Path, ch.Old.BlobHash, ch.Old.Mode)
}

func (r *Repo) writeWorktreeFile(f TreeFileEntry) (*StagingEntry, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", f.Path, err)
	}
	blob, err := r.Store.ReadBlob(f.BlobHash)
	if err != nil {
		return nil, fmt.Errorf("read blob for %q: %w", f.Path, err)
	}
	perm := filePermFromMode(f.Mode)
	if err := os.WriteFile(absPath, blob.Data, perm); err != nil {
		return nil, fmt.Errorf("write %q: %w", f.Path, err)
	}
	// WriteFile keeps the old permissions of an existing file.
	if err := os.Chmod(absPath, perm); err != nil {
		return nil, fmt.Errorf("chmod %q: %w", f.Path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", f.Path, err)
	}
	return &StagingEntry{
		Path:     f.Path,
		BlobHash: f.BlobHash,
		Mode:     normalizeFileMode(f.Mode),
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}, nil
}
