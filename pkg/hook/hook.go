// Package hook runs the repository's pre-commit and commit-msg scripts.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/odvcencio/gotstack/pkg/repo"
)

const (
	PreCommit = "pre-commit"
	CommitMsg = "commit-msg"
)

// HookError is returned when a hook script exits non-zero.
type HookError struct {
	Name     string
	ExitCode int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook returned %d", e.Name, e.ExitCode)
}

// Message is a commit message together with its text encoding. An empty
// Encoding means UTF-8.
type Message struct {
	Text     string
	Encoding string
}

// Bytes returns the message encoded with its encoding.
func (m Message) Bytes() ([]byte, error) {
	if isUTF8(m.Encoding) {
		return []byte(m.Text), nil
	}
	enc, err := htmlindex.Get(m.Encoding)
	if err != nil {
		return nil, fmt.Errorf("message encoding %q: %w", m.Encoding, err)
	}
	return enc.NewEncoder().Bytes([]byte(m.Text))
}

// decode is the inverse of Bytes.
func (m Message) decode(data []byte) (Message, error) {
	if isUTF8(m.Encoding) {
		if !utf8.Valid(data) {
			return Message{}, errors.New("message is not valid UTF-8")
		}
		return Message{Text: string(data), Encoding: m.Encoding}, nil
	}
	enc, err := htmlindex.Get(m.Encoding)
	if err != nil {
		return Message{}, fmt.Errorf("message encoding %q: %w", m.Encoding, err)
	}
	text, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return Message{}, fmt.Errorf("message could not be decoded with %s: %w", m.Encoding, err)
	}
	return Message{Text: string(text), Encoding: m.Encoding}, nil
}

func isUTF8(enc string) bool {
	switch strings.ToLower(enc) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// Runner runs hooks. A missing hook is not an error.
type Runner interface {
	// RunPreCommit reports whether the hook ran.
	RunPreCommit(ctx context.Context, useEditor bool) (bool, error)
	// RunCommitMsg returns the message as the hook left it.
	RunCommitMsg(ctx context.Context, msg Message, useEditor bool) (Message, error)
}

// NopRunner runs nothing.
type NopRunner struct{}

func (NopRunner) RunPreCommit(context.Context, bool) (bool, error) { return false, nil }

func (NopRunner) RunCommitMsg(_ context.Context, msg Message, _ bool) (Message, error) {
	return msg, nil
}

// ScriptRunner runs executable scripts from a hooks directory.
type ScriptRunner struct {
	HooksDir  string
	WorkDir   string
	IndexPath string
}

// NewScriptRunner locates the hooks directory of r: core.hookspath when
// set (absolute, "~"-expanded, or relative to the worktree root, or to
// the .got directory for a repository without worktree), .got/hooks
// otherwise.
func NewScriptRunner(r *repo.Repo) (*ScriptRunner, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(r.GotDir, "hooks")
	if p, ok := cfg.Get("core.hookspath"); ok && p != "" {
		if p, err = homedir.Expand(p); err != nil {
			return nil, fmt.Errorf("core.hookspath: %w", err)
		}
		switch {
		case filepath.IsAbs(p):
			dir = p
		case r.RootDir == "":
			dir = filepath.Join(r.GotDir, p)
		default:
			dir = filepath.Join(r.RootDir, p)
		}
	}
	return &ScriptRunner{
		HooksDir:  dir,
		WorkDir:   r.RootDir,
		IndexPath: filepath.Join(r.GotDir, "index"),
	}, nil
}

// path returns the hook script, or "" when it is missing, not a regular
// file, or not executable.
func (s *ScriptRunner) path(name string) string {
	p := filepath.Join(s.HooksDir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return ""
	}
	return p
}

func (s *ScriptRunner) command(ctx context.Context, path string, useEditor bool, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = s.WorkDir
	cmd.Env = append(os.Environ(), "GOT_INDEX_FILE="+s.IndexPath)
	if !useEditor {
		cmd.Env = append(cmd.Env, "GIT_EDITOR=:", "EDITOR=:")
	}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd
}

func run(name string, cmd *exec.Cmd) error {
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &HookError{Name: name, ExitCode: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("%s hook: %w", name, err)
	}
	return nil
}

func (s *ScriptRunner) RunPreCommit(ctx context.Context, useEditor bool) (bool, error) {
	path := s.path(PreCommit)
	if path == "" {
		return false, nil
	}
	if err := run(PreCommit, s.command(ctx, path, useEditor)); err != nil {
		return false, err
	}
	return true, nil
}

// RunCommitMsg writes msg to a temporary file, runs the hook on it and
// reads the possibly rewritten message back with the same encoding.
func (s *ScriptRunner) RunCommitMsg(ctx context.Context, msg Message, useEditor bool) (Message, error) {
	path := s.path(CommitMsg)
	if path == "" {
		return msg, nil
	}
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}
	f, err := os.CreateTemp("", "stg-commit-msg-*")
	if err != nil {
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}
	if err := f.Close(); err != nil {
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}

	if err := run(CommitMsg, s.command(ctx, path, useEditor, f.Name())); err != nil {
		return Message{}, err
	}
	out, err := os.ReadFile(f.Name())
	if err != nil {
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}
	rewritten, err := msg.decode(out)
	if err != nil {
		return Message{}, fmt.Errorf("%s hook: %w", CommitMsg, err)
	}
	return rewritten, nil
}
