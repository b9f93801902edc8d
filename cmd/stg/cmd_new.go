package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/hook"
	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newNewCmd(a *app) *cobra.Command {
	var message string
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Create a new empty patch on top of the stack",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && len(args) == 0 {
				return usagef("a patch name or a message (-m) is required")
			}
			if message == "" {
				message = args[0]
			}
			if !strings.HasSuffix(message, "\n") {
				message += "\n"
			}

			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.AutoInitialize)
			if err != nil {
				return err
			}
			runner, err := hookRunner(r, noVerify)
			if err != nil {
				return err
			}
			msg, err := runner.RunCommitMsg(cmd.Context(), hook.Message{Text: message}, false)
			if err != nil {
				return err
			}

			limit := stack.NameLengthLimit(r)
			var name patch.Name
			if len(args) > 0 {
				if name, err = patch.Parse(args[0]); err != nil {
					return err
				}
				if err := patch.ValidateLength(string(name), limit); err != nil {
					return err
				}
			} else if name, err = patch.Make(msg.Text, false, limit, s.All()); err != nil {
				return err
			}

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				tree, err := r.CommitTree(tx.Top())
				if err != nil {
					return err
				}
				c, err := tx.NewCommit(tree, []object.Hash{tx.Top()}, msg.Text, repo.CommitOptions{Encoding: msg.Encoding})
				if err != nil {
					return err
				}
				return tx.NewApplied(name, c)
			}).Execute("new: " + string(name))
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "patch description")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the commit-msg hook")
	return cmd
}
