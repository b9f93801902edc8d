package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/gotstack/pkg/object"
)

// DefaultBranch is the branch HEAD points at in a fresh repository.
const DefaultBranch = "main"

// Init creates a new Got repository at path. It creates the .got/ directory
// structure: HEAD, objects/, refs/heads/ and logs/. Returns an error if a
// .got/ directory already exists.
func Init(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	gotDir := filepath.Join(abs, ".got")

	if _, err := os.Stat(gotDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", gotDir)
	}

	dirs := []string{
		filepath.Join(gotDir, "objects"),
		filepath.Join(gotDir, "refs", "heads"),
		filepath.Join(gotDir, "logs", "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(gotDir, "HEAD")
	if err := os.WriteFile(headPath, []byte("ref: refs/heads/"+DefaultBranch+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	return &Repo{
		RootDir: abs,
		GotDir:  gotDir,
		Store:   object.NewStore(gotDir),
	}, nil
}

// Open searches upward from path for a .got/ directory and opens the
// repository. Returns an error if no .got/ directory is found.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		gotDir := filepath.Join(cur, ".got")
		info, err := os.Stat(gotDir)
		if err == nil && info.IsDir() {
			return &Repo{
				RootDir: cur,
				GotDir:  gotDir,
				Store:   object.NewStore(gotDir),
			}, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: not a got repository (or any parent up to /)")
		}
		cur = parent
	}
}

// Head reads .got/HEAD. If the content starts with "ref: ", it returns the
// ref path (e.g., "refs/heads/main"). Otherwise it returns the raw content
// as a detached hash string.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.GotDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")

	if strings.HasPrefix(content, symbolicPrefix) {
		return strings.TrimPrefix(content, symbolicPrefix), nil
	}
	return content, nil
}
