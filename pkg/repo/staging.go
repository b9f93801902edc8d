package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// ErrUnresolvedConflicts is returned when a tree is requested from an index
// that still holds conflicted entries.
var ErrUnresolvedConflicts = errors.New("index has unresolved conflicts")

// StagingEntry records the staged state of a single file.
type StagingEntry struct {
	Path     string      `json:"path"`
	BlobHash object.Hash `json:"blob_hash"`
	Mode     string      `json:"mode,omitempty"`
	Conflict bool        `json:"conflict,omitempty"`
	ModTime  int64       `json:"mod_time"`
	Size     int64       `json:"size"`
}

// Staging holds the full staging area (index) for a Got repository.
type Staging struct {
	Entries map[string]*StagingEntry `json:"entries"`
}

// Files returns the staged entries as tree files, sorted by path.
func (s *Staging) Files() []TreeFileEntry {
	files := make([]TreeFileEntry, 0, len(s.Entries))
	for _, e := range s.Entries {
		files = append(files, TreeFileEntry{Path: e.Path, BlobHash: e.BlobHash, Mode: normalizeFileMode(e.Mode)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// ConflictedPaths returns the sorted paths flagged as conflicted.
func (s *Staging) ConflictedPaths() []string {
	var paths []string
	for p, e := range s.Entries {
		if e.Conflict {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// indexPath returns the filesystem path to the staging index file.
func (r *Repo) indexPath() string {
	return filepath.Join(r.GotDir, "index")
}

// ReadStaging loads the staging area from .got/index. If the file does not
// exist, an empty Staging is returned (no error).
func (r *Repo) ReadStaging() (*Staging, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Staging{Entries: make(map[string]*StagingEntry)}, nil
		}
		return nil, fmt.Errorf("read staging: %w", err)
	}

	var stg Staging
	if err := json.Unmarshal(data, &stg); err != nil {
		return nil, fmt.Errorf("read staging: unmarshal: %w", err)
	}
	if stg.Entries == nil {
		stg.Entries = make(map[string]*StagingEntry)
	}
	return &stg, nil
}

// WriteStaging atomically writes the staging area to .got/index.
func (r *Repo) WriteStaging(s *Staging) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("write staging: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("write staging: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write staging: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write staging: close: %w", err)
	}

	if err := os.Rename(tmpName, r.indexPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write staging: rename: %w", err)
	}
	return nil
}

// Add stages the given file paths: each file's content is written as a
// blob and its index entry updated. Adding a conflicted path marks it
// resolved. A path missing from the worktree is removed from the index.
func (r *Repo) Add(paths []string) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	for _, p := range paths {
		relPath, err := r.RelPath(p)
		if err != nil {
			return fmt.Errorf("add: resolve path %q: %w", p, err)
		}
		if err := r.stageFile(stg, relPath); err != nil {
			return fmt.Errorf("add: %w", err)
		}
	}
	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

// AddTracked restages every tracked path from the worktree, the way
// "commit -a" does, and returns the resulting staging area.
func (r *Repo) AddTracked() (*Staging, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("add tracked: %w", err)
	}
	paths := make([]string, 0, len(stg.Entries))
	for p := range stg.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := r.stageFile(stg, p); err != nil {
			return nil, fmt.Errorf("add tracked: %w", err)
		}
	}
	if err := r.WriteStaging(stg); err != nil {
		return nil, fmt.Errorf("add tracked: %w", err)
	}
	return stg, nil
}

func (r *Repo) stageFile(stg *Staging, relPath string) error {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			delete(stg.Entries, relPath)
			return nil
		}
		return fmt.Errorf("stat %q: %w", relPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", relPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %q: %w", relPath, err)
	}
	blobHash, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return fmt.Errorf("write blob %q: %w", relPath, err)
	}
	stg.Entries[relPath] = &StagingEntry{
		Path:     relPath,
		BlobHash: blobHash,
		Mode:     modeFromFileInfo(info),
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}
	return nil
}

// Remove drops paths from the index without touching the worktree.
func (r *Repo) Remove(paths []string) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	for _, p := range paths {
		relPath, err := r.RelPath(p)
		if err != nil {
			return fmt.Errorf("remove: resolve path %q: %w", p, err)
		}
		delete(stg.Entries, relPath)
	}
	return r.WriteStaging(stg)
}

// WriteIndexTree builds a tree from the staging area. It refuses while
// conflicts are unresolved.
func (r *Repo) WriteIndexTree() (object.Hash, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return "", err
	}
	if conflicted := stg.ConflictedPaths(); len(conflicted) > 0 {
		return "", fmt.Errorf("write tree: %w: %s", ErrUnresolvedConflicts, strings.Join(conflicted, ", "))
	}
	return r.BuildTree(stg.Files())
}

func modeFromFileInfo(info os.FileInfo) string {
	if info.Mode()&0o111 != 0 {
		return object.TreeModeExecutable
	}
	return object.TreeModeFile
}

// normalizeFileMode maps anything that is not executable to a regular file.
func normalizeFileMode(mode string) string {
	if mode == object.TreeModeExecutable {
		return object.TreeModeExecutable
	}
	return object.TreeModeFile
}

func filePermFromMode(mode string) os.FileMode {
	if normalizeFileMode(mode) == object.TreeModeExecutable {
		return 0o755
	}
	return 0o644
}

// RelPath converts a path (absolute, or relative to CWD) into a path
// relative to the repository root. A relative path that does not resolve
// inside the repository is assumed to already be repo-relative.
func (r *Repo) RelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	rel, err := filepath.Rel(r.RootDir, filepath.Join(cwd, p))
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	return filepath.ToSlash(rel), nil
}
