package object

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const (
	hashA = Hash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	hashB = Hash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestMarshalUnmarshalTree(t *testing.T) {
	orig := &TreeObj{
		Entries: []TreeEntry{
			{Name: "notes with spaces.txt", Mode: TreeModeExecutable, BlobHash: hashA},
			{Name: "src", IsDir: true, Mode: TreeModeDir, SubtreeHash: hashB},
		},
	}
	got, err := UnmarshalTree(MarshalTree(orig))
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Entries length: got %d, want 2", len(got.Entries))
	}
	for i, e := range got.Entries {
		if e != orig.Entries[i] {
			t.Errorf("Entries[%d] = %+v, want %+v", i, e, orig.Entries[i])
		}
	}
	if _, ok := got.Lookup("src"); !ok {
		t.Error("Lookup(src) = false")
	}
}

func TestMarshalTreeSortsEntries(t *testing.T) {
	orig := &TreeObj{
		Entries: []TreeEntry{
			{Name: "z_file", Mode: TreeModeFile, BlobHash: hashA},
			{Name: "a_file", Mode: TreeModeFile, BlobHash: hashB},
		},
	}
	got, err := UnmarshalTree(MarshalTree(orig))
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if got.Entries[0].Name != "a_file" || got.Entries[1].Name != "z_file" {
		t.Errorf("entries not sorted: %+v", got.Entries)
	}
	if !bytes.Equal(MarshalTree(orig), MarshalTree(got)) {
		t.Error("Tree marshal not deterministic across entry order")
	}
}

func TestUnmarshalTreeRejectsUnknownMode(t *testing.T) {
	if _, err := UnmarshalTree([]byte("120000 " + string(hashA) + " link\n")); err == nil {
		t.Fatal("UnmarshalTree accepted unknown mode")
	}
}

func TestMarshalUnmarshalCommit(t *testing.T) {
	orig := &CommitObj{
		TreeHash:  hashA,
		Parents:   []Hash{hashB, hashA},
		Author:    "Alice <alice@example.com>",
		Timestamp: 1700000000,
		Message:   "initial commit\n\nWith a multi-line body.",
	}
	got, err := UnmarshalCommit(MarshalCommit(orig))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if got.TreeHash != orig.TreeHash || got.Author != orig.Author || got.Timestamp != orig.Timestamp {
		t.Errorf("UnmarshalCommit = %+v, want %+v", got, orig)
	}
	if len(got.Parents) != 2 || got.Parents[0] != hashB {
		t.Errorf("Parents = %v, want [%s %s]", got.Parents, hashB, hashA)
	}
	if got.Message != orig.Message {
		t.Errorf("Message = %q, want %q", got.Message, orig.Message)
	}
}

func TestCommitAuthorTime(t *testing.T) {
	c := &CommitObj{Timestamp: 1700000000, AuthorTimezone: "+0530"}
	got := c.AuthorTime()
	if got.Unix() != 1700000000 || got.Format("-0700") != "+0530" {
		t.Errorf("AuthorTime = %v, want +0530 zone", got)
	}
	c.AuthorTimezone = "bogus"
	if got := c.AuthorTime(); got.Location() != time.UTC {
		t.Errorf("AuthorTime with bad zone = %v, want UTC", got)
	}
}

func TestMarshalCommitOmitsOptionalHeaders(t *testing.T) {
	data := string(MarshalCommit(&CommitObj{TreeHash: hashA, Author: "a", Message: "m"}))
	for _, key := range []string{"committer ", "encoding ", "signature ", "authortz "} {
		if strings.Contains(data, key) {
			t.Errorf("serialized commit contains %q header:\n%s", key, data)
		}
	}
}

func TestUnmarshalCommitRejectsUnknownHeader(t *testing.T) {
	data := []byte("tree " + string(hashA) + "\nbogus value\n\nmsg")
	if _, err := UnmarshalCommit(data); err == nil {
		t.Fatal("UnmarshalCommit accepted unknown header")
	}
}
