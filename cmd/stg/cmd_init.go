package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/stack"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a patch stack on the branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.MustInitialize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized stack on %s\n", s.BranchName())
			return nil
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Stage files, marking conflicts in them resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			return r.Add(args)
		},
	}
}
