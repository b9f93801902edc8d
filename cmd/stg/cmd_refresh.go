package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/hook"
	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newRefreshCmd(a *app) *cobra.Command {
	var message string
	var target string
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Record the worktree changes in the topmost patch",
		Long: "Record the changes to tracked files in the topmost applied patch.\n\n" +
			"With --patch naming an unapplied patch, the changes are recorded in\n" +
			"that patch, which is then pushed. This completes a push that halted\n" +
			"on conflicts once they are resolved and staged with \"stg add\".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			if !onCurrentBranch(r, s) {
				return usagef("refresh works on the checked-out branch only")
			}

			name, err := refreshTarget(s, target)
			if err != nil {
				return err
			}
			_, unapplied := indexOf(s.Unapplied(), name)

			stg, err := r.ReadStaging()
			if err != nil {
				return err
			}
			if conflicted := stg.ConflictedPaths(); len(conflicted) > 0 {
				return fmt.Errorf("%w: %s", repo.ErrUnresolvedConflicts, strings.Join(conflicted, ", "))
			}

			runner, err := hookRunner(r, noVerify)
			if err != nil {
				return err
			}
			if _, err := runner.RunPreCommit(cmd.Context(), false); err != nil {
				return err
			}
			if _, err := r.AddTracked(); err != nil {
				return err
			}
			tree, err := r.WriteIndexTree()
			if err != nil {
				return err
			}

			ps, _ := s.Patch(name)
			old, err := r.ReadCommit(ps.Commit)
			if err != nil {
				return err
			}
			msg := hook.Message{Text: old.Message, Encoding: old.Encoding}
			if message != "" {
				if !strings.HasSuffix(message, "\n") {
					message += "\n"
				}
				if msg, err = runner.RunCommitMsg(cmd.Context(), hook.Message{Text: message, Encoding: old.Encoding}, false); err != nil {
					return err
				}
			}
			parent := old.Parent()
			if unapplied {
				parent = s.Top()
			} else if tree == old.TreeHash && msg.Text == old.Message {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to refresh")
				return nil
			}

			// The index already holds the new tree.
			_, err = a.transaction(cmd, r, s).UseIndexAndWorktree(false).Transact(func(tx *stack.Transaction) error {
				c, err := tx.NewCommit(tree, []object.Hash{parent}, msg.Text, repo.CommitOptions{
					Author:     old.Author,
					AuthorTime: old.AuthorTime(),
					Encoding:   msg.Encoding,
				})
				if err != nil {
					return err
				}
				if err := tx.UpdatePatch(name, c); err != nil {
					return err
				}
				if unapplied {
					return tx.PushPatch(name)
				}
				return nil
			}).Execute("refresh: " + string(name))
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "replace the patch description")
	cmd.Flags().StringVarP(&target, "patch", "p", "", "refresh this patch instead of the topmost one")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the pre-commit and commit-msg hooks")
	return cmd
}

// refreshTarget picks the patch to refresh: the named one if it is the
// top or unapplied, otherwise the top.
func refreshTarget(s *stack.Stack, target string) (patch.Name, error) {
	applied := s.Applied()
	if target == "" {
		if len(applied) == 0 {
			return "", stack.ErrNoAppliedPatches
		}
		return applied[len(applied)-1], nil
	}
	names, err := parseNames(s, []string{target})
	if err != nil {
		return "", err
	}
	name := names[0]
	if _, ok := indexOf(s.Unapplied(), name); ok {
		return name, nil
	}
	if len(applied) > 0 && applied[len(applied)-1] == name {
		return name, nil
	}
	return "", usagef("patch %s is neither the topmost applied patch nor unapplied", name)
}

func indexOf(names []patch.Name, n patch.Name) (int, bool) {
	for i, x := range names {
		if x == n {
			return i, true
		}
	}
	return -1, false
}
