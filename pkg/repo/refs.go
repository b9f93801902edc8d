package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/gotstack/pkg/object"
)

var (
	ErrRefCASMismatch                  = errors.New("ref compare-and-swap mismatch")
	ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
	ErrInvalidRefName                  = errors.New("invalid ref name")
)

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

const (
	symbolicPrefix    = "ref: "
	maxSymrefDepth    = 5
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// RefValue is the raw content of a ref file: either a direct object id or
// the name of another ref.
type RefValue struct {
	Hash     object.Hash
	Symbolic string
}

// IsSymbolic reports whether the ref points at another ref.
func (v RefValue) IsSymbolic() bool { return v.Symbolic != "" }

func (v RefValue) String() string {
	if v.IsSymbolic() {
		return symbolicPrefix + v.Symbolic
	}
	return string(v.Hash)
}

func parseRefValue(data []byte) RefValue {
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, symbolicPrefix) {
		return RefValue{Symbolic: strings.TrimSpace(strings.TrimPrefix(content, symbolicPrefix))}
	}
	return RefValue{Hash: object.Hash(content)}
}

// CheckRefName rejects names that would escape .got/ or collide with lock
// files.
func CheckRefName(name string) error {
	if name == "HEAD" {
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("%w: %q must start with refs/", ErrInvalidRefName, name)
	}
	for _, part := range strings.Split(name, "/") {
		switch {
		case part == "", part == ".", part == "..":
			return fmt.Errorf("%w: %q has an empty or relative component", ErrInvalidRefName, name)
		case strings.HasSuffix(part, ".lock"):
			return fmt.Errorf("%w: %q has a component ending in .lock", ErrInvalidRefName, name)
		case strings.ContainsAny(part, "\\\x00"):
			return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidRefName, name)
		}
	}
	return nil
}

func (r *Repo) refPath(name string) string {
	return filepath.Join(r.GotDir, filepath.FromSlash(name))
}

// qualifyRef expands a short name to refs/heads/<name>.
func qualifyRef(name string) string {
	if name == "HEAD" || strings.HasPrefix(name, "refs/") {
		return name
	}
	return "refs/heads/" + name
}

// ReadRef returns the raw value of a ref without following symbolic refs.
// A missing ref returns an error matching os.ErrNotExist.
func (r *Repo) ReadRef(name string) (RefValue, error) {
	name = qualifyRef(name)
	if err := CheckRefName(name); err != nil {
		return RefValue{}, fmt.Errorf("read ref: %w", err)
	}
	data, err := os.ReadFile(r.refPath(name))
	if err != nil {
		return RefValue{}, fmt.Errorf("read ref %q: %w", name, err)
	}
	return parseRefValue(data), nil
}

// RefExists reports whether the named ref file exists.
func (r *Repo) RefExists(name string) bool {
	_, err := r.ReadRef(name)
	return err == nil
}

// ResolveRef resolves a ref name to an object hash.
//
// Resolution order:
//  1. "HEAD" reads .got/HEAD.
//  2. Names starting with "refs/" read .got/<name>.
//  3. Anything else is tried as "refs/heads/<name>".
//
// Symbolic refs are followed.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	cur := qualifyRef(name)
	for depth := 0; depth < maxSymrefDepth; depth++ {
		v, err := r.ReadRef(cur)
		if err != nil {
			return "", fmt.Errorf("resolve ref %q: %w", name, err)
		}
		if !v.IsSymbolic() {
			return v.Hash, nil
		}
		cur = v.Symbolic
	}
	return "", fmt.Errorf("resolve ref %q: symbolic ref chain too deep", name)
}

// UpdateRefCAS points name at h using lockfile + rename atomic semantics.
// The update only succeeds when the current value equals expectedOld; an
// empty expectedOld means the ref must not exist yet. A symbolic ref never
// matches an expected hash.
//
// Reflog append happens after the ref rename; if reflog append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) UpdateRefCAS(name string, h, expectedOld object.Hash, reason string) error {
	return r.writeRef(name, RefValue{Hash: h}, reason, func(old RefValue, exists bool) error {
		if expectedOld == "" {
			if exists {
				return fmt.Errorf("%w (expected no ref, found %s)", ErrRefCASMismatch, old)
			}
			return nil
		}
		if !exists || old.IsSymbolic() || old.Hash != expectedOld {
			found := old.String()
			if !exists {
				found = "none"
			}
			return fmt.Errorf("%w (expected %s, found %s)", ErrRefCASMismatch, expectedOld, found)
		}
		return nil
	})
}

// ForceUpdateRef points name at h regardless of its current value. A
// symbolic ref is replaced by a direct one.
func (r *Repo) ForceUpdateRef(name string, h object.Hash, reason string) error {
	return r.writeRef(name, RefValue{Hash: h}, reason, nil)
}

// SetSymbolicRef makes name point at the ref target.
func (r *Repo) SetSymbolicRef(name, target, reason string) error {
	if err := CheckRefName(target); err != nil {
		return fmt.Errorf("set symbolic ref %q: %w", name, err)
	}
	return r.writeRef(name, RefValue{Symbolic: target}, reason, nil)
}

func (r *Repo) writeRef(name string, val RefValue, reason string, check func(old RefValue, exists bool) error) error {
	if err := CheckRefName(name); err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	refPath := r.refPath(name)

	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	old, exists, err := readRefFile(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old value: %w", name, err)
	}
	if check != nil {
		if err := check(old, exists); err != nil {
			return fmt.Errorf("update ref %q: %w", name, err)
		}
	}

	if _, err := lockFile.WriteString(val.String() + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false

	if err := r.appendReflog(name, old.Hash, val.Hash, reason); err != nil {
		return &RefUpdateReflogError{
			Ref:     name,
			OldHash: old.Hash,
			NewHash: val.Hash,
			Err:     err,
		}
	}
	return nil
}

// DeleteRef removes a ref and its reflog. Deleting a missing ref is not an
// error.
func (r *Repo) DeleteRef(name string) error {
	if err := CheckRefName(name); err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	if name == "HEAD" {
		return fmt.Errorf("delete ref: refusing to delete HEAD")
	}
	refPath := r.refPath(name)
	lockPath := refPath + ".lock"
	if _, err := os.Stat(filepath.Dir(refPath)); os.IsNotExist(err) {
		return nil
	}
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("delete ref %q: lock: %w", name, err)
	}
	_ = lockFile.Close()

	removeErr := os.Remove(refPath)
	_ = os.Remove(lockPath)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("delete ref %q: %w", name, removeErr)
	}
	r.removeEmptyDirs(filepath.Dir(refPath), filepath.Join(r.GotDir, "refs"))

	logPath := filepath.Join(r.GotDir, "logs", filepath.FromSlash(name))
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete ref %q: reflog: %w", name, err)
	}
	r.removeEmptyDirs(filepath.Dir(logPath), filepath.Join(r.GotDir, "logs"))
	return nil
}

// ListRefs lists references whose full name starts with prefix, e.g.
// "refs/heads/" or "refs/patches/main/". Names are returned in full.
func (r *Repo) ListRefs(prefix string) (map[string]RefValue, error) {
	root := filepath.Join(r.GotDir, "refs")
	refs := make(map[string]RefValue)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(r.GotDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[name] = parseRefValue(data)
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// SortedRefNames returns the keys of refs in lexical order.
func SortedRefNames(refs map[string]RefValue) []string {
	names := make([]string, 0, len(refs))
	for n := range refs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefFile(refPath string) (RefValue, bool, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return RefValue{}, false, nil
		}
		return RefValue{}, false, err
	}
	return parseRefValue(data), true, nil
}

// removeEmptyDirs removes empty directories from dir up to, but not
// including, stop.
func (r *Repo) removeEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		_ = os.Remove(dir)
		dir = filepath.Dir(dir)
	}
}
