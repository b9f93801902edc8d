package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newBranchCmd(a *app) *cobra.Command {
	var list, create, del, force bool

	cmd := &cobra.Command{
		Use:   "branch [name [revision]]",
		Short: "Manage branches and their stacks",
		Long: "Without arguments print the current branch; with a name switch to it.\n" +
			"--list marks the current branch with '>', a branch carrying a stack\n" +
			"with 's' and a protected stack with 'p'. --create starts a branch at\n" +
			"the revision (HEAD by default) with an empty stack and switches to it.\n" +
			"--delete removes a branch together with its stack; a stack that still\n" +
			"has patches needs --force.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := 0
			for _, set := range []bool{list, create, del} {
				if set {
					modes++
				}
			}
			if modes > 1 {
				return usagef("--list, --create and --delete are mutually exclusive")
			}
			if len(args) == 2 && !create {
				return usagef("a revision is only accepted with --create")
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case list:
				if len(args) > 0 {
					return usagef("--list takes no arguments")
				}
				return a.listBranches(r, out)
			case create:
				if len(args) == 0 {
					return usagef("--create needs a branch name")
				}
				rev := "HEAD"
				if len(args) == 2 {
					rev = args[1]
				}
				return a.createBranch(cmd, r, args[0], rev)
			case del:
				if len(args) != 1 {
					return usagef("--delete needs exactly one branch name")
				}
				return a.deleteBranch(r, args[0], force)
			case len(args) == 1:
				if err := switchBranch(r, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "switched to %s\n", args[0])
				return nil
			}
			cur, err := r.CurrentBranch()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cur)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list branches and their stacks")
	cmd.Flags().BoolVarP(&create, "create", "c", false, "create a branch with an empty stack")
	cmd.Flags().BoolVar(&del, "delete", false, "delete a branch and its stack")
	cmd.Flags().BoolVar(&force, "force", false, "delete even when the stack has patches")
	return cmd
}

func (a *app) listBranches(r *repo.Repo, out io.Writer) error {
	branches, err := r.ListBranches()
	if err != nil {
		return err
	}
	cur, err := r.CurrentBranch()
	if err != nil && !errors.Is(err, repo.ErrDetachedHead) {
		return err
	}
	mark := func(on bool, c string) string {
		if on {
			return c
		}
		return " "
	}
	for _, name := range branches {
		s, err := stack.FromBranch(r, name, stack.AllowUninitialized, stack.WithLogger(a.log))
		if err != nil {
			return err
		}
		protected, err := s.IsProtected()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s%s %s\n", mark(name == cur, ">"), mark(s.IsInitialized(), "s"), mark(protected, "p"), name)
	}
	return nil
}

func (a *app) createBranch(cmd *cobra.Command, r *repo.Repo, name, rev string) error {
	target, err := r.RevParse(rev)
	if err != nil {
		return err
	}
	if err := repo.CheckRefName(repo.BranchRef(name)); err != nil {
		return err
	}
	if r.RefExists(repo.BranchRef(name)) {
		return usagef("branch %q already exists", name)
	}
	if err := r.CheckIndexAndWorktreeClean(); err != nil {
		return err
	}
	if err := r.CreateBranch(name, target); err != nil {
		return err
	}
	if err := switchBranch(r, name); err != nil {
		return err
	}
	if _, err := stack.FromBranch(r, name, stack.MustInitialize, stack.WithLogger(a.log)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s at %s\n", name, target.Short())
	return nil
}

// switchBranch checks out the tip of name and points HEAD at it. The
// index and worktree must be clean.
func switchBranch(r *repo.Repo, name string) error {
	if cur, err := r.CurrentBranch(); err == nil && cur == name {
		return nil
	}
	_, to, err := r.ResolveBranch(name)
	if err != nil {
		return err
	}
	if err := r.CheckIndexAndWorktreeClean(); err != nil {
		return err
	}
	var fromTree object.Hash
	if from, err := r.ResolveRef("HEAD"); err == nil {
		if fromTree, err = r.CommitTree(from); err != nil {
			return err
		}
	}
	toTree, err := r.CommitTree(to)
	if err != nil {
		return err
	}
	if err := r.CheckoutTree(fromTree, toTree, repo.CheckoutOptions{}); err != nil {
		return err
	}
	return r.SwitchBranch(name)
}

func (a *app) deleteBranch(r *repo.Repo, name string, force bool) error {
	if cur, err := r.CurrentBranch(); err == nil && cur == name {
		return usagef("cannot delete the current branch %q", name)
	}
	s, err := stack.FromBranch(r, name, stack.AllowUninitialized, stack.WithLogger(a.log))
	if err != nil {
		return err
	}
	if s.IsInitialized() {
		protected, err := s.IsProtected()
		if err != nil {
			return err
		}
		if protected {
			return fmt.Errorf("branch %q: %w", name, stack.ErrProtected)
		}
		if n := len(s.All()); n > 0 && !force {
			return usagef("branch %q has %d patches; use --force to delete it", name, n)
		}
		if err := s.Deinitialize(); err != nil {
			return err
		}
	}
	if err := r.DeleteBranch(name); err != nil {
		return err
	}
	prefix := "branch." + name + "."
	return r.UpdateConfig(func(cfg *repo.Config) error {
		for _, key := range cfg.Keys() {
			if strings.HasPrefix(key, prefix) {
				cfg.Unset(key)
			}
		}
		return nil
	})
}
