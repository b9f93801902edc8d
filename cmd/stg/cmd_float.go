package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/hook"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newFloatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "float <patch|range>...",
		Short: "Move patches to the top of the stack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			names, err := expandPatches(s, append(s.Applied(), s.Unapplied()...), args)
			if err != nil {
				return err
			}
			applied := append(without(s.Applied(), names), names...)
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.Reorder(applied, without(tx.Unapplied(), names), tx.Hidden())
			}).Execute("float: " + joinNames(names))
			return err
		},
	}
}

func newSinkCmd(a *app) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "sink <patch|range>...",
		Short: "Move patches down the stack",
		Long: "Move the patches to the bottom of the stack, or below the applied\n" +
			"patch given with --to.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			names, err := expandPatches(s, append(s.Applied(), s.Unapplied()...), args)
			if err != nil {
				return err
			}
			rest := without(s.Applied(), names)
			at := 0
			if to != "" {
				target, err := parseNames(s, []string{to})
				if err != nil {
					return err
				}
				if patch.Contains(names, target[0]) {
					return usagef("cannot sink %s below itself", target[0])
				}
				i, ok := indexOf(rest, target[0])
				if !ok {
					return usagef("--to patch %s is not applied", target[0])
				}
				at = i
			}
			applied := append(append(append([]patch.Name(nil), rest[:at]...), names...), rest[at:]...)
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.Reorder(applied, without(tx.Unapplied(), names), tx.Hidden())
			}).Execute("sink: " + joinNames(names))
			return err
		},
	}
	cmd.Flags().StringVarP(&to, "to", "t", "", "sink below this applied patch")
	return cmd
}

func newSquashCmd(a *app) *cobra.Command {
	var name, message string
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "squash <patch|range>...",
		Short: "Fold several patches into one",
		Long: "Squash the patches, in the order given, into a single applied patch.\n" +
			"Without --message the descriptions are joined.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			names, err := expandPatches(s, append(s.Applied(), s.Unapplied()...), args)
			if err != nil {
				return err
			}
			if len(names) < 2 {
				return usagef("need at least two patches to squash")
			}
			var newName patch.Name
			if name != "" {
				if newName, err = patch.Parse(name); err != nil {
					return err
				}
			}
			if message != "" {
				if !strings.HasSuffix(message, "\n") {
					message += "\n"
				}
				runner, err := hookRunner(r, noVerify)
				if err != nil {
					return err
				}
				msg, err := runner.RunCommitMsg(cmd.Context(), hook.Message{Text: message}, false)
				if err != nil {
					return err
				}
				message = msg.Text
			}
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				_, err := tx.SquashPatches(names, message, newName)
				return err
			}).Execute("squash: " + joinNames(names))
			return err
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the resulting patch")
	cmd.Flags().StringVarP(&message, "message", "m", "", "description of the resulting patch")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the commit-msg hook")
	return cmd
}
