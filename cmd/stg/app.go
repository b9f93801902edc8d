package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/gotstack/pkg/hook"
	"github.com/odvcencio/gotstack/pkg/logging"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

// app holds the global flags and what setup derives from them.
type app struct {
	branch         string
	logLevel       string
	conflictPolicy string
	colorMode      string

	log    *zap.Logger
	policy stack.ConflictPolicy
}

func (a *app) setup(errOut, out io.Writer) error {
	log, err := logging.New(a.logLevel, errOut)
	if err != nil {
		return usagef("%v", err)
	}
	a.log = log
	if a.policy, err = stack.ParseConflictPolicy(a.conflictPolicy); err != nil {
		return usagef("%v", err)
	}
	switch a.colorMode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto":
		color.NoColor = os.Getenv("NO_COLOR") != "" || !isTerminal(out)
	default:
		return usagef("unknown --color value %q (expected auto, always, or never)", a.colorMode)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) openRepo() (*repo.Repo, error) {
	return repo.Open(".")
}

func (a *app) openStack(r *repo.Repo, policy stack.InitPolicy) (*stack.Stack, error) {
	return stack.FromBranch(r, a.branch, policy, stack.WithLogger(a.log))
}

// onCurrentBranch reports whether s belongs to the checked-out branch, the
// only one whose top may be checked out into the worktree.
func onCurrentBranch(r *repo.Repo, s *stack.Stack) bool {
	cur, err := r.CurrentBranch()
	return err == nil && cur == s.BranchName()
}

// transaction starts a transaction configured from the global flags.
func (a *app) transaction(cmd *cobra.Command, r *repo.Repo, s *stack.Stack) *stack.TransactionBuilder {
	return s.SetupTransaction().
		UseIndexAndWorktree(onCurrentBranch(r, s)).
		ConflictPolicy(a.policy).
		WithOutput(cmd.OutOrStdout()).
		WithLogger(a.log)
}

func hookRunner(r *repo.Repo, noVerify bool) (hook.Runner, error) {
	if noVerify {
		return hook.NopRunner{}, nil
	}
	return hook.NewScriptRunner(r)
}

// expandPatches expands names and "a..b" ranges, resolved against order,
// in argument order without duplicates.
func expandPatches(s *stack.Stack, order []patch.Name, args []string) ([]patch.Name, error) {
	var out []patch.Name
	for _, arg := range args {
		rng, err := patch.ParseRange(arg)
		if err != nil {
			return nil, err
		}
		for _, end := range []patch.Name{rng.Begin, rng.End} {
			if end != "" && !s.HasPatch(end) {
				return nil, fmt.Errorf("%w: %s", stack.ErrUnknownPatch, end)
			}
		}
		names, err := rng.Select(order)
		if err != nil {
			return nil, usagef("%s: %v", arg, err)
		}
		for _, n := range names {
			if !patch.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func nameSet(names []patch.Name) func(patch.Name) bool {
	set := make(map[patch.Name]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(n patch.Name) bool { return set[n] }
}

// parseNames validates each argument as an existing patch name.
func parseNames(s *stack.Stack, args []string) ([]patch.Name, error) {
	out := make([]patch.Name, 0, len(args))
	for _, arg := range args {
		n, err := patch.Parse(arg)
		if err != nil {
			return nil, err
		}
		if !s.HasPatch(n) {
			return nil, fmt.Errorf("%w: %s", stack.ErrUnknownPatch, n)
		}
		out = append(out, n)
	}
	return out, nil
}

func without(names []patch.Name, drop []patch.Name) []patch.Name {
	var out []patch.Name
	for _, n := range names {
		if !patch.Contains(drop, n) {
			out = append(out, n)
		}
	}
	return out
}
