package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/gotstack/pkg/object"
)

// CommitOptions controls the metadata of commits built by NewCommit.
type CommitOptions struct {
	Author     string    // default: Identity()
	AuthorTime time.Time // default: now
	Committer  string    // default: Identity()
	Encoding   string    // message encoding, "" for UTF-8
	Signer     object.CommitSigner
}

// NewCommit writes a commit with the given tree and parents.
func (r *Repo) NewCommit(tree object.Hash, parents []object.Hash, message string, opts CommitOptions) (object.Hash, error) {
	now := time.Now()
	ident := ""
	if opts.Author == "" || opts.Committer == "" {
		ident = r.Identity()
	}
	if opts.Author == "" {
		opts.Author = ident
	}
	if opts.Committer == "" {
		opts.Committer = ident
	}
	if opts.AuthorTime.IsZero() {
		opts.AuthorTime = now
	}

	c := &object.CommitObj{
		TreeHash:           tree,
		Parents:            parents,
		Author:             opts.Author,
		Timestamp:          opts.AuthorTime.Unix(),
		AuthorTimezone:     opts.AuthorTime.Format("-0700"),
		Committer:          opts.Committer,
		CommitterTimestamp: now.Unix(),
		CommitterTimezone:  now.Format("-0700"),
		Encoding:           opts.Encoding,
		Message:            message,
	}
	if err := object.Sign(c, opts.Signer); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}
	return h, nil
}

// Commit creates a new commit from the current staging area on top of HEAD
// and advances the current branch with a compare-and-swap.
func (r *Repo) Commit(message string, signer object.CommitSigner) (object.Hash, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if len(stg.Entries) == 0 {
		return "", fmt.Errorf("commit: nothing staged")
	}
	if conflicted := stg.ConflictedPaths(); len(conflicted) > 0 {
		return "", fmt.Errorf("commit: %w: %s", ErrUnresolvedConflicts, strings.Join(conflicted, ", "))
	}
	treeHash, err := r.BuildTree(stg.Files())
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	// HEAD may not resolve yet on the first commit.
	var parents []object.Hash
	parentHash, err := r.ResolveRef("HEAD")
	switch {
	case err == nil:
		parents = append(parents, parentHash)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("commit: %w", err)
	}

	commitHash, err := r.NewCommit(treeHash, parents, message, CommitOptions{Signer: signer})
	if err != nil {
		return "", err
	}

	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("commit: read HEAD: %w", err)
	}
	target := "HEAD"
	if strings.HasPrefix(head, "refs/") {
		target = head
	}
	if err := r.UpdateRefCAS(target, commitHash, parentHash, "commit: "+firstLine(message)); err != nil {
		return "", fmt.Errorf("commit: update ref %q: %w", target, err)
	}
	return commitHash, nil
}

// Log walks first-parent history from start, returning up to limit
// commits newest first.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	current := start

	for current != "" && (limit <= 0 || len(commits) < limit) {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)
		current = c.Parent()
	}
	return commits, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
