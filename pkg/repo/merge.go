package repo

import (
	"bytes"
	"fmt"

	"github.com/odvcencio/gotstack/pkg/diff3"
	"github.com/odvcencio/gotstack/pkg/object"
)

// Conflict is a path the three-way merge could not resolve. Content holds
// the file as it should appear in the worktree, with conflict markers.
type Conflict struct {
	Path    string
	Content []byte
	Mode    string
	Reason  string // "content", "add/add", "delete/modify", "binary"
}

// TreeMergeResult is the outcome of MergeTrees.
type TreeMergeResult struct {
	// Tree is the merged tree. When there are conflicts it contains the
	// conflict-marked content and must not be committed.
	Tree      object.Hash
	Conflicts []Conflict
}

// Clean reports whether the merge produced no conflicts.
func (m *TreeMergeResult) Clean() bool { return len(m.Conflicts) == 0 }

// ConflictPaths lists the conflicted paths in order.
func (m *TreeMergeResult) ConflictPaths() []string {
	paths := make([]string, len(m.Conflicts))
	for i, c := range m.Conflicts {
		paths[i] = c.Path
	}
	return paths
}

// MergeTrees performs a three-way merge of the trees ours and theirs with
// base as common ancestor. Any hash may be empty, meaning the empty tree.
func (r *Repo) MergeTrees(base, ours, theirs object.Hash, labels diff3.Labels) (*TreeMergeResult, error) {
	if ours == theirs || theirs == base {
		return &TreeMergeResult{Tree: ours}, nil
	}
	if ours == base {
		return &TreeMergeResult{Tree: theirs}, nil
	}

	baseMap, err := r.TreeFiles(base)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten base tree: %w", err)
	}
	oursMap, err := r.TreeFiles(ours)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten ours tree: %w", err)
	}
	theirsMap, err := r.TreeFiles(theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten theirs tree: %w", err)
	}

	res := &TreeMergeResult{}
	var merged []TreeFileEntry
	for _, path := range collectAllPaths(baseMap, oursMap, theirsMap) {
		b, inBase := baseMap[path]
		o, inOurs := oursMap[path]
		t, inTheirs := theirsMap[path]

		switch {
		case sameEntry(o, inOurs, t, inTheirs):
			if inOurs {
				merged = append(merged, o)
			}
			continue
		case sameEntry(o, inOurs, b, inBase):
			if inTheirs {
				merged = append(merged, t)
			}
			continue
		case sameEntry(t, inTheirs, b, inBase):
			if inOurs {
				merged = append(merged, o)
			}
			continue
		}

		// Both sides changed the path differently.
		var c *Conflict
		var entry TreeFileEntry
		switch {
		case inOurs && inTheirs:
			entry, c, err = r.mergeFile(path, b, inBase, o, t, labels)
		case inOurs:
			entry, c, err = r.deleteModifyConflict(path, o, false, labels)
		default:
			entry, c, err = r.deleteModifyConflict(path, t, true, labels)
		}
		if err != nil {
			return nil, fmt.Errorf("merge file %q: %w", path, err)
		}
		merged = append(merged, entry)
		if c != nil {
			res.Conflicts = append(res.Conflicts, *c)
		}
	}

	tree, err := r.BuildTree(merged)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	res.Tree = tree
	return res, nil
}

func sameEntry(a TreeFileEntry, inA bool, b TreeFileEntry, inB bool) bool {
	if inA != inB {
		return false
	}
	return !inA || (a.BlobHash == b.BlobHash && a.Mode == b.Mode)
}

// mergeFile merges content present on both sides. A missing base means
// both sides added the path.
func (r *Repo) mergeFile(path string, base TreeFileEntry, inBase bool, ours, theirs TreeFileEntry, labels diff3.Labels) (TreeFileEntry, *Conflict, error) {
	mode := ours.Mode
	if inBase && ours.Mode == base.Mode {
		mode = theirs.Mode
	}

	oursData, err := r.readBlobData(ours.BlobHash)
	if err != nil {
		return TreeFileEntry{}, nil, err
	}
	theirsData, err := r.readBlobData(theirs.BlobHash)
	if err != nil {
		return TreeFileEntry{}, nil, err
	}
	var baseData []byte
	if inBase {
		if baseData, err = r.readBlobData(base.BlobHash); err != nil {
			return TreeFileEntry{}, nil, err
		}
	}

	reason := "content"
	if !inBase {
		reason = "add/add"
	}
	if isBinary(oursData) || isBinary(theirsData) || isBinary(baseData) {
		entry := TreeFileEntry{Path: path, BlobHash: ours.BlobHash, Mode: mode}
		return entry, &Conflict{Path: path, Content: oursData, Mode: mode, Reason: "binary"}, nil
	}

	result := diff3.Merge(baseData, oursData, theirsData, labels)
	h, err := r.Store.WriteBlob(&object.Blob{Data: result.Merged})
	if err != nil {
		return TreeFileEntry{}, nil, fmt.Errorf("write merged blob: %w", err)
	}
	entry := TreeFileEntry{Path: path, BlobHash: h, Mode: mode}
	if !result.HasConflicts {
		return entry, nil, nil
	}
	return entry, &Conflict{Path: path, Content: result.Merged, Mode: mode, Reason: reason}, nil
}

// deleteModifyConflict renders a path deleted on one side and modified on
// the other. keptTheirs is set when the surviving version is theirs.
func (r *Repo) deleteModifyConflict(path string, kept TreeFileEntry, keptTheirs bool, labels diff3.Labels) (TreeFileEntry, *Conflict, error) {
	data, err := r.readBlobData(kept.BlobHash)
	if err != nil {
		return TreeFileEntry{}, nil, err
	}
	var content []byte
	if keptTheirs {
		content = renderFileConflict(nil, data, labels)
	} else {
		content = renderFileConflict(data, nil, labels)
	}
	h, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return TreeFileEntry{}, nil, fmt.Errorf("write conflict blob: %w", err)
	}
	entry := TreeFileEntry{Path: path, BlobHash: h, Mode: kept.Mode}
	return entry, &Conflict{Path: path, Content: content, Mode: kept.Mode, Reason: "delete/modify"}, nil
}

func renderFileConflict(ours, theirs []byte, labels diff3.Labels) []byte {
	if labels.Ours == "" {
		labels.Ours = diff3.DefaultLabels.Ours
	}
	if labels.Theirs == "" {
		labels.Theirs = diff3.DefaultLabels.Theirs
	}
	var buf bytes.Buffer
	buf.WriteString("<<<<<<< " + labels.Ours + "\n")
	buf.Write(ours)
	if len(ours) > 0 && ours[len(ours)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString("=======\n")
	buf.Write(theirs)
	if len(theirs) > 0 && theirs[len(theirs)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(">>>>>>> " + labels.Theirs + "\n")
	return buf.Bytes()
}

// isBinary applies the usual NUL-byte heuristic to the first 8000 bytes.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// readBlobData reads a blob from the store and returns its raw data.
func (r *Repo) readBlobData(h object.Hash) ([]byte, error) {
	blob, err := r.Store.ReadBlob(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	return blob.Data, nil
}
