package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/gotstack/pkg/object"
	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newResetCmd(a *app) *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "reset <state> [patch]...",
		Short: "Reset the stack to an earlier state",
		Long: "Reset the stack, or only the named patches, to the state recorded by\n" +
			"a state commit such as refs/stacks/<branch>~2. See \"stg log\".",
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
			id, err := r.RevParse(args[0])
			if err != nil {
				return err
			}
			state, err := stack.FromCommit(r, id)
			if err != nil {
				return err
			}
			names := make([]patch.Name, 0, len(args)-1)
			for _, arg := range args[1:] {
				n, err := patch.Parse(arg)
				if err != nil {
					return err
				}
				names = append(names, n)
			}

			_, err = a.transaction(cmd, r, s).DiscardChanges(hard).Transact(func(tx *stack.Transaction) error {
				if len(names) > 0 {
					return tx.ResetToStatePartially(state, names)
				}
				return tx.ResetToState(state)
			}).Execute("reset: " + id.Short())
			return err
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "discard local changes in the worktree")
	return cmd
}

func newUndoCmd(a *app) *cobra.Command {
	var count int
	var hard bool

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the last stack operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return usagef("--number must be positive")
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			entries, err := s.Log(count + 1)
			if err != nil {
				return err
			}
			if len(entries) <= count {
				return usagef("only %d operations to undo", len(entries)-1)
			}
			target := entries[count]
			_, err = a.transaction(cmd, r, s).DiscardChanges(hard).Transact(func(tx *stack.Transaction) error {
				return tx.ResetToState(target.State)
			}).Execute(fmt.Sprintf("undo %d", count))
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "number", "n", 1, "undo this many operations")
	cmd.Flags().BoolVar(&hard, "hard", false, "discard local changes in the worktree")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var limit int
	var clearLog, verify bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the history of stack states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			if clearLog {
				return s.ClearStateLog("clear log")
			}
			entries, err := s.Log(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			id := color.New(color.FgYellow)
			for _, e := range entries {
				subject, _, _ := strings.Cut(e.Message, "\n")
				applied := make([]string, len(e.State.Applied))
				for i, n := range e.State.Applied {
					applied[i] = string(n)
				}
				line := fmt.Sprintf("%s %s [%s]", id.Sprint(e.ID.Short()), subject, strings.Join(applied, " "))
				if verify {
					c, err := r.ReadCommit(e.ID)
					if err != nil {
						return err
					}
					line += " (" + signatureStatus(c) + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "number", "n", 0, "show at most this many states")
	cmd.Flags().BoolVar(&clearLog, "clear", false, "forget the history, keeping the current state")
	cmd.Flags().BoolVar(&verify, "verify", false, "check the SSH signature of each state")
	return cmd
}

// signatureStatus describes the signature of a state commit.
func signatureStatus(c *object.CommitObj) string {
	if c.Signature == "" {
		return "unsigned"
	}
	pub, err := object.VerifyCommitSignature(c)
	if err != nil {
		return "bad signature"
	}
	return "signed " + ssh.FingerprintSHA256(pub)
}
