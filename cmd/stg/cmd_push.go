package main

import (
	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newPushCmd(a *app) *cobra.Command {
	var all, merged bool
	var count int

	cmd := &cobra.Command{
		Use:   "push [patch|range]...",
		Short: "Push unapplied patches onto the stack",
		Long: "Push the named unapplied patches, in the order given, or the next\n" +
			"--number patches. A patch that does not apply cleanly is merged; a\n" +
			"conflict halts the push (or aborts it with --conflict-policy=abort).",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}

			unapplied := s.Unapplied()
			var names []patch.Name
			switch {
			case len(args) > 0:
				if names, err = expandPatches(s, unapplied, args); err != nil {
					return err
				}
			case all:
				names = unapplied
			default:
				if count < 1 {
					return usagef("--number must be positive")
				}
				names = unapplied[:min(count, len(unapplied))]
			}
			if len(names) == 0 {
				return usagef("no patches to push")
			}

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.PushPatches(names, merged)
			}).Execute("push")
			return err
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "push all unapplied patches")
	cmd.Flags().IntVarP(&count, "number", "n", 1, "push this many patches")
	cmd.Flags().BoolVarP(&merged, "merged", "m", false, "check for patches already merged upstream")
	return cmd
}

func newPopCmd(a *app) *cobra.Command {
	var all bool
	var count int

	cmd := &cobra.Command{
		Use:   "pop [patch|range]...",
		Short: "Pop applied patches off the stack",
		Long: "Pop the topmost --number patches, or the named ones. Patches above a\n" +
			"named patch that were not named themselves are pushed back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}

			applied := s.Applied()
			var names []patch.Name
			switch {
			case len(args) > 0:
				if names, err = expandPatches(s, applied, args); err != nil {
					return err
				}
			case all:
				names = applied
			default:
				if count < 1 {
					return usagef("--number must be positive")
				}
				names = applied[len(applied)-min(count, len(applied)):]
			}
			if len(names) == 0 {
				return stack.ErrNoAppliedPatches
			}

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				_, err := tx.PopPatches(nameSet(names))
				return err
			}).Execute("pop")
			return err
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "pop all applied patches")
	cmd.Flags().IntVarP(&count, "number", "n", 1, "pop this many patches")
	return cmd
}

func newGotoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "goto <patch>",
		Short: "Push or pop patches until the named one is the top",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			names, err := parseNames(s, args)
			if err != nil {
				return err
			}
			target := names[0]

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				if i, ok := indexOf(tx.Applied(), target); ok {
					_, err := tx.PopPatches(nameSet(tx.Applied()[i+1:]))
					return err
				}
				if i, ok := indexOf(tx.Unapplied(), target); ok {
					return tx.PushPatches(tx.Unapplied()[:i+1], false)
				}
				return usagef("patch %s is hidden", target)
			}).Execute("goto: " + string(target))
			return err
		},
	}
}
