package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// ErrDirtyWorktree is returned by CheckIndexAndWorktreeClean.
var ErrDirtyWorktree = errors.New("local changes in index or worktree")

// FileStatus represents the state of a file in the working tree or index.
type FileStatus int

const (
	StatusClean     FileStatus = iota // file matches between compared areas
	StatusNew                         // in staging, not in HEAD tree
	StatusModified                    // in staging, different from HEAD
	StatusConflict                    // file has unresolved merge conflicts in index
	StatusDeleted                     // in HEAD but not in staging (or staged but missing on disk)
	StatusUntracked                   // in working dir but not in staging
	StatusDirty                       // staged but working copy differs from staged
)

// StatusEntry records the status of a single file.
type StatusEntry struct {
	Path        string     // repo-relative path
	IndexStatus FileStatus // staging vs HEAD comparison
	WorkStatus  FileStatus // working tree vs staging comparison
}

// Status compares the worktree against the index, and the index against
// the HEAD tree. Only paths that differ somewhere are returned, sorted.
func (r *Repo) Status() ([]StatusEntry, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	workFiles, err := r.worktreeFiles()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	headFiles, err := r.headFiles()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	result := make(map[string]*StatusEntry)
	entry := func(p string) *StatusEntry {
		e, ok := result[p]
		if !ok {
			e = &StatusEntry{Path: p}
			result[p] = e
		}
		return e
	}

	for p := range workFiles {
		if _, staged := stg.Entries[p]; !staged {
			e := entry(p)
			e.IndexStatus, e.WorkStatus = StatusUntracked, StatusUntracked
		}
	}

	for p, se := range stg.Entries {
		if se.Conflict {
			e := entry(p)
			e.IndexStatus, e.WorkStatus = StatusConflict, StatusConflict
			continue
		}
		if !workFiles[p] {
			entry(p).WorkStatus = StatusDeleted
		} else if dirty, err := r.worktreeDiffers(p, se.BlobHash, se.Mode); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		} else if dirty {
			entry(p).WorkStatus = StatusDirty
		}

		h, inHead := headFiles[p]
		switch {
		case !inHead:
			entry(p).IndexStatus = StatusNew
		case h.BlobHash != se.BlobHash || h.Mode != normalizeFileMode(se.Mode):
			entry(p).IndexStatus = StatusModified
		}
	}

	for p := range headFiles {
		if _, staged := stg.Entries[p]; !staged {
			entry(p).IndexStatus = StatusDeleted
		}
	}

	entries := make([]StatusEntry, 0, len(result))
	for _, e := range result {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// CheckIndexAndWorktreeClean fails with ErrDirtyWorktree when a tracked
// file differs from HEAD in the index or the worktree. Untracked files are
// ignored.
func (r *Repo) CheckIndexAndWorktreeClean() error {
	entries, err := r.Status()
	if err != nil {
		return err
	}
	var dirty []string
	for _, e := range entries {
		if e.IndexStatus == StatusUntracked {
			continue
		}
		dirty = append(dirty, e.Path)
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: %s", ErrDirtyWorktree, strings.Join(dirty, ", "))
	}
	return nil
}

// IsClean reports whether the index and worktree match HEAD.
func (r *Repo) IsClean() (bool, error) {
	err := r.CheckIndexAndWorktreeClean()
	if errors.Is(err, ErrDirtyWorktree) {
		return false, nil
	}
	return err == nil, err
}

// worktreeDiffers reports whether the worktree file at p differs from the
// blob and mode given. Content is always rehashed: stat data written in
// the same clock tick as an edit cannot be trusted.
func (r *Repo) worktreeDiffers(p string, blob object.Hash, mode string) (bool, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(p))
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return blob != "", nil
		}
		return false, fmt.Errorf("stat %q: %w", p, err)
	}
	if blob == "" {
		return true, nil
	}
	if modeFromFileInfo(info) != normalizeFileMode(mode) {
		return true, nil
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", p, err)
	}
	return object.HashObject(object.TypeBlob, content) != blob, nil
}

// worktreeFiles returns the set of regular files in the worktree, skipping
// .got and .git.
func (r *Repo) worktreeFiles() (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(r.RootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".got" || d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk worktree: %w", err)
	}
	return files, nil
}

// headFiles flattens the HEAD commit's tree. An unborn HEAD has no files.
func (r *Repo) headFiles() (map[string]TreeFileEntry, error) {
	headHash, err := r.ResolveRef("HEAD")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]TreeFileEntry{}, nil
		}
		return nil, err
	}
	tree, err := r.CommitTree(headHash)
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}
	return r.TreeFiles(tree)
}
