package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/stack"
)

func newSeriesCmd(a *app) *cobra.Command {
	var all, description, empty bool

	cmd := &cobra.Command{
		Use:   "series",
		Short: "List the patches of the stack",
		Long: "List patches bottom to top. Applied patches are marked \"+\", the top\n" +
			"\">\", unapplied ones \"-\", and hidden ones \"!\" (with --all).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.AllowUninitialized)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			applied := s.Applied()
			for i, n := range applied {
				mark, c := "+", color.New(color.FgGreen)
				if i == len(applied)-1 {
					mark, c = ">", color.New(color.FgGreen, color.Bold)
				}
				if err := printSeriesLine(out, s, n, mark, c, description, empty); err != nil {
					return err
				}
			}
			for _, n := range s.Unapplied() {
				if err := printSeriesLine(out, s, n, "-", color.New(color.FgYellow), description, empty); err != nil {
					return err
				}
			}
			if all {
				for _, n := range s.Hidden() {
					if err := printSeriesLine(out, s, n, "!", color.New(color.Faint), description, empty); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include hidden patches")
	cmd.Flags().BoolVarP(&description, "description", "d", false, "show the first line of each patch description")
	cmd.Flags().BoolVarP(&empty, "empty", "e", false, "prefix empty patches with \"0\"")
	return cmd
}

func printSeriesLine(w io.Writer, s *stack.Stack, n patch.Name, mark string, c *color.Color, description, empty bool) error {
	ps, _ := s.Patch(n)
	if empty {
		isEmpty, err := ps.IsEmpty(s.Store())
		if err != nil {
			return err
		}
		if isEmpty {
			mark = "0" + mark
		} else {
			mark = " " + mark
		}
	}
	line := mark + " " + string(n)
	if description {
		commit, err := s.Store().ReadCommit(ps.Commit)
		if err != nil {
			return err
		}
		subject, _, _ := strings.Cut(commit.Message, "\n")
		line += " # " + subject
	}
	_, err := c.Fprintln(w, line)
	if err != nil {
		return fmt.Errorf("series: %w", err)
	}
	return nil
}
