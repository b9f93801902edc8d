package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/stack"
)

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Bring the stack back in line with a branch moved outside it",
		Long: "Adopt commits made on top of the stack as new patches and unapply\n" +
			"patches no longer on the branch.",
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
			_, res, err := s.Repair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(res.Adopted) == 0 && len(res.Unapplied) == 0 {
				fmt.Fprintln(out, "nothing to repair")
				return nil
			}
			if len(res.Adopted) > 0 {
				fmt.Fprintf(out, "adopted: %s\n", joinNames(res.Adopted))
			}
			if len(res.Unapplied) > 0 {
				fmt.Fprintf(out, "unapplied: %s\n", joinNames(res.Unapplied))
			}
			return nil
		},
	}
}

func newProtectCmd(a *app, protect bool) *cobra.Command {
	use, short := "protect", "Refuse stack operations on the branch"
	if !protect {
		use, short = "unprotect", "Allow stack operations on the branch again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
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
			return s.SetProtected(protect)
		},
	}
}
