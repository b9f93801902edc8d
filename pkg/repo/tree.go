package repo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path     string
	BlobHash object.Hash
	Mode     string
}

// ChangeKind classifies a path in a tree diff.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "A"
	case ChangeModified:
		return "M"
	case ChangeDeleted:
		return "D"
	}
	return "?"
}

// TreeChange describes one path that differs between two trees.
type TreeChange struct {
	Path string
	Kind ChangeKind
	Old  TreeFileEntry // zero for ChangeAdded
	New  TreeFileEntry // zero for ChangeDeleted
}

// BuildTree writes a hierarchy of tree objects for the given files and
// returns the root hash. Paths use forward slashes.
func (r *Repo) BuildTree(files []TreeFileEntry) (object.Hash, error) {
	byPath := make(map[string]TreeFileEntry, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	return r.buildTreeDir(byPath, "")
}

// buildTreeDir builds a TreeObj for the given directory prefix and writes it
// to the store. It returns the tree's hash.
func (r *Repo) buildTreeDir(files map[string]TreeFileEntry, prefix string) (object.Hash, error) {
	direct := make(map[string]TreeFileEntry)
	subdirs := make(map[string]struct{})

	for p, entry := range files {
		rel := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}
		if slash := strings.IndexByte(rel, '/'); slash >= 0 {
			subdirs[rel[:slash]] = struct{}{}
		} else {
			direct[rel] = entry
		}
	}

	names := make([]string, 0, len(direct)+len(subdirs))
	for name := range direct {
		names = append(names, name)
	}
	for name := range subdirs {
		// A name cannot be both a file and a directory.
		if _, isFile := direct[name]; !isFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	entries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		if f, isFile := direct[name]; isFile {
			entries = append(entries, object.TreeEntry{
				Name:     name,
				Mode:     normalizeFileMode(f.Mode),
				BlobHash: f.BlobHash,
			})
			continue
		}
		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		subHash, err := r.buildTreeDir(files, childPrefix)
		if err != nil {
			return "", fmt.Errorf("build tree %q: %w", childPrefix, err)
		}
		entries = append(entries, object.TreeEntry{
			Name:        name,
			IsDir:       true,
			Mode:        object.TreeModeDir,
			SubtreeHash: subHash,
		})
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// EmptyTree writes and returns the tree with no entries.
func (r *Repo) EmptyTree() (object.Hash, error) {
	return r.Store.WriteTree(&object.TreeObj{})
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full paths. An empty hash flattens to nothing.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	if h == "" {
		return nil, nil
	}
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}
		if entry.IsDir {
			sub, err := r.flattenTreeRec(entry.SubtreeHash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{
			Path:     fullPath,
			BlobHash: entry.BlobHash,
			Mode:     normalizeFileMode(entry.Mode),
		})
	}
	return result, nil
}

// TreeFiles flattens h into a map keyed by path.
func (r *Repo) TreeFiles(h object.Hash) (map[string]TreeFileEntry, error) {
	files, err := r.FlattenTree(h)
	if err != nil {
		return nil, err
	}
	return indexByPath(files), nil
}

// CommitTree returns the tree of commit h.
func (r *Repo) CommitTree(h object.Hash) (object.Hash, error) {
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h, err)
	}
	return c.TreeHash, nil
}

// DiffTrees lists the files that differ between trees a and b, sorted by
// path. Either hash may be empty, meaning the empty tree.
func (r *Repo) DiffTrees(a, b object.Hash) ([]TreeChange, error) {
	if a == b {
		return nil, nil
	}
	oldFiles, err := r.TreeFiles(a)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	newFiles, err := r.TreeFiles(b)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	var changes []TreeChange
	for _, p := range collectAllPaths(oldFiles, newFiles) {
		o, inOld := oldFiles[p]
		n, inNew := newFiles[p]
		switch {
		case inOld && !inNew:
			changes = append(changes, TreeChange{Path: p, Kind: ChangeDeleted, Old: o})
		case !inOld && inNew:
			changes = append(changes, TreeChange{Path: p, Kind: ChangeAdded, New: n})
		case o.BlobHash != n.BlobHash || o.Mode != n.Mode:
			changes = append(changes, TreeChange{Path: p, Kind: ChangeModified, Old: o, New: n})
		}
	}
	return changes, nil
}

// indexByPath creates a map from file path to TreeFileEntry.
func indexByPath(entries []TreeFileEntry) map[string]TreeFileEntry {
	m := make(map[string]TreeFileEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

// collectAllPaths returns a sorted, deduplicated list of all file paths
// across the given file maps.
func collectAllPaths(maps ...map[string]TreeFileEntry) []string {
	seen := make(map[string]bool)
	for _, m := range maps {
		for p := range m {
			seen[p] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
