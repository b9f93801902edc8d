package object

import "time"

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// Short returns the abbreviated form used in progress output and logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Exactly one of BlobHash and
// SubtreeHash is set, depending on IsDir.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// Lookup returns the entry with the given name.
func (t *TreeObj) Lookup(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	AuthorTimezone     string
	Committer          string
	CommitterTimestamp int64
	CommitterTimezone  string
	// Encoding names the text encoding of Message. Empty means UTF-8.
	Encoding  string
	Signature string
	Message   string
}

// AuthorTime returns the author date in the author's recorded zone, or in
// UTC when the zone is missing or malformed.
func (c *CommitObj) AuthorTime() time.Time {
	loc := time.UTC
	if tz, err := time.Parse("-0700", c.AuthorTimezone); err == nil {
		loc = tz.Location()
	}
	return time.Unix(c.Timestamp, 0).In(loc)
}

// Parent returns the first parent, or "" for a root commit.
func (c *CommitObj) Parent() Hash {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

// Subject returns the first line of the commit message.
func (c *CommitObj) Subject() string {
	msg := c.Message
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}
