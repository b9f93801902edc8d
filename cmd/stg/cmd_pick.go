package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newPickCmd(a *app) *cobra.Command {
	var name string
	var revert, unapplied bool

	cmd := &cobra.Command{
		Use:   "pick <revision>",
		Short: "Import a commit as a new patch",
		Long: "Create a patch from the commit and push it. With --revert the patch\n" +
			"undoes the commit instead. Pushing needs a clean index and worktree.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.AutoInitialize)
			if err != nil {
				return err
			}
			if !unapplied && onCurrentBranch(r, s) {
				if err := r.CheckIndexAndWorktreeClean(); err != nil {
					return err
				}
			}
			rev, err := r.RevParse(args[0])
			if err != nil {
				return err
			}
			c, err := r.ReadCommit(rev)
			if err != nil {
				return err
			}

			message := c.Message
			if revert {
				subject, _, _ := strings.Cut(c.Message, "\n")
				message = fmt.Sprintf("Revert %q\n\nThis reverts commit %s.\n", subject, rev)
			}

			limit := stack.NameLengthLimit(r)
			var pname patch.Name
			if name != "" {
				if pname, err = patch.Parse(name); err != nil {
					return err
				}
				if err := patch.ValidateLength(string(pname), limit); err != nil {
					return err
				}
			} else if pname, err = patch.Make(message, false, limit, s.All()); err != nil {
				return err
			}

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				commit := rev
				if revert {
					parent := c.Parent()
					if parent == "" {
						return usagef("cannot revert root commit %s", rev.Short())
					}
					tree, err := r.CommitTree(parent)
					if err != nil {
						return err
					}
					if commit, err = tx.NewCommit(tree, []object.Hash{rev}, message, repo.CommitOptions{}); err != nil {
						return err
					}
				}
				if err := tx.NewUnapplied(pname, commit, 0); err != nil {
					return err
				}
				if unapplied {
					return nil
				}
				return tx.PushPatch(pname)
			}).Execute("pick: " + string(pname))
			return err
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the new patch")
	cmd.Flags().BoolVarP(&revert, "revert", "r", false, "pick the inverse of the commit")
	cmd.Flags().BoolVarP(&unapplied, "unapplied", "u", false, "keep the new patch unapplied")
	return cmd
}
