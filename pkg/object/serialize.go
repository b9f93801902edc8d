package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj. Entries are sorted by Name for
// deterministic output. Each entry is one line:
//
//	mode hash name
//
// where hash is the blob hash for files and the subtree hash for
// directories. The name comes last so it may contain spaces.
func MarshalTree(tr *TreeObj) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		h := e.BlobHash
		if e.IsDir {
			h = e.SubtreeHash
		}
		fmt.Fprintf(&buf, "%s %s %s\n", treeModeOrDefault(e), h, e.Name)
	}
	return buf.Bytes()
}

// UnmarshalTree parses a TreeObj from its serialized form.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 || parts[2] == "" {
			return nil, fmt.Errorf("unmarshal tree: malformed entry %q", line)
		}
		isDir, mode, err := parseTreeMode(parts[0])
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		entry := TreeEntry{Name: parts[2], IsDir: isDir, Mode: mode}
		if isDir {
			entry.SubtreeHash = Hash(parts[1])
		} else {
			entry.BlobHash = Hash(parts[1])
		}
		tr.Entries = append(tr.Entries, entry)
	}
	return tr, nil
}

func treeModeOrDefault(e TreeEntry) string {
	if e.IsDir {
		return TreeModeDir
	}
	if strings.TrimSpace(e.Mode) == "" {
		return TreeModeFile
	}
	return e.Mode
}

func parseTreeMode(mode string) (bool, string, error) {
	switch mode {
	case TreeModeDir:
		return true, TreeModeDir, nil
	case TreeModeFile:
		return false, TreeModeFile, nil
	case TreeModeExecutable:
		return false, TreeModeExecutable, nil
	default:
		return false, "", fmt.Errorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H           (zero or more)
//	author A
//	timestamp T
//	authortz Z         (optional)
//	committer C        (optional)
//	committertime T    (optional)
//	committertz Z      (optional)
//	encoding E         (optional)
//	signature S        (optional)
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)
	if c.AuthorTimezone != "" {
		fmt.Fprintf(&buf, "authortz %s\n", c.AuthorTimezone)
	}
	if c.Committer != "" {
		fmt.Fprintf(&buf, "committer %s\n", c.Committer)
		fmt.Fprintf(&buf, "committertime %d\n", c.CommitterTimestamp)
		if c.CommitterTimezone != "" {
			fmt.Fprintf(&buf, "committertz %s\n", c.CommitterTimezone)
		}
	}
	if c.Encoding != "" {
		fmt.Fprintf(&buf, "encoding %s\n", c.Encoding)
	}
	if strings.TrimSpace(c.Signature) != "" {
		fmt.Fprintf(&buf, "signature %s\n", c.Signature)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author":
			c.Author = val
		case "timestamp", "committertime":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad %s %q: %w", key, val, err)
			}
			if key == "timestamp" {
				c.Timestamp = ts
			} else {
				c.CommitterTimestamp = ts
			}
		case "authortz":
			c.AuthorTimezone = val
		case "committer":
			c.Committer = val
		case "committertz":
			c.CommitterTimezone = val
		case "encoding":
			c.Encoding = val
		case "signature":
			c.Signature = val
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}
