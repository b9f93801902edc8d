package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newDeleteCmd(a *app) *cobra.Command {
	var top bool

	cmd := &cobra.Command{
		Use:   "delete [patch|range]...",
		Short: "Delete patches",
		Long: "Delete the named patches. Applied patches above a deleted one are\n" +
			"pushed back onto the new top.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if top == (len(args) > 0) {
				return usagef("give either patch names or --top")
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			var names []patch.Name
			if top {
				applied := s.Applied()
				if len(applied) == 0 {
					return stack.ErrNoAppliedPatches
				}
				names = applied[len(applied)-1:]
			} else if names, err = expandPatches(s, s.All(), args); err != nil {
				return err
			}

			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				_, err := tx.DeletePatches(nameSet(names))
				return err
			}).Execute("delete: " + joinNames(names))
			return err
		},
	}
	cmd.Flags().BoolVarP(&top, "top", "t", false, "delete the topmost patch")
	return cmd
}

func newHideCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hide <patch|range>...",
		Short: "Hide patches from the series",
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
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.HidePatches(names)
			}).Execute("hide: " + joinNames(names))
			return err
		},
	}
}

func newUnhideCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unhide <patch|range>...",
		Short: "Make hidden patches unapplied again",
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
			names, err := expandPatches(s, s.Hidden(), args)
			if err != nil {
				return err
			}
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.UnhidePatches(names)
			}).Execute("unhide: " + joinNames(names))
			return err
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename [old] <new>",
		Short: "Rename a patch, the topmost one by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.RequireInitialized)
			if err != nil {
				return err
			}
			var oldName patch.Name
			if len(args) == 2 {
				names, err := parseNames(s, args[:1])
				if err != nil {
					return err
				}
				oldName, args = names[0], args[1:]
			} else {
				applied := s.Applied()
				if len(applied) == 0 {
					return stack.ErrNoAppliedPatches
				}
				oldName = applied[len(applied)-1]
			}
			newName, err := patch.Parse(args[0])
			if err != nil {
				return err
			}
			if err := patch.ValidateLength(string(newName), stack.NameLengthLimit(r)); err != nil {
				return err
			}
			_, err = a.transaction(cmd, r, s).Transact(func(tx *stack.Transaction) error {
				return tx.RenamePatch(oldName, newName)
			}).Execute(fmt.Sprintf("rename: %s -> %s", oldName, newName))
			return err
		},
	}
}

func joinNames(names []patch.Name) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}
