package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/patch"
	"github.com/odvcencio/gotstack/pkg/repo"
	"github.com/odvcencio/gotstack/pkg/stack"
)

var changeColors = map[repo.ChangeKind]*color.Color{
	repo.ChangeAdded:    color.New(color.FgGreen),
	repo.ChangeModified: color.New(color.FgYellow),
	repo.ChangeDeleted:  color.New(color.FgRed),
}

func newFilesCmd(a *app) *cobra.Command {
	var bare bool

	cmd := &cobra.Command{
		Use:   "files [patch]",
		Short: "Show the files a patch changes",
		Long: "List the files the patch (the topmost applied one by default) changes\n" +
			"relative to its parent. Changes not yet refreshed into the patch are\n" +
			"not shown.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.AllowUninitialized)
			if err != nil {
				return err
			}
			var name patch.Name
			if len(args) == 1 {
				names, err := parseNames(s, args)
				if err != nil {
					return err
				}
				name = names[0]
			} else {
				applied := s.Applied()
				if len(applied) == 0 {
					return stack.ErrNoAppliedPatches
				}
				name = applied[len(applied)-1]
			}
			changes, err := s.PatchChanges(name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ch := range changes {
				if bare {
					fmt.Fprintln(out, ch.Path)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", changeColors[ch.Kind].Sprint(ch.Kind), ch.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&bare, "bare", false, "print bare file names")
	return cmd
}

func newPatchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patches [path]...",
		Short: "Show the applied patches that change the given paths",
		Long: "List the applied patches, bottom first, that change any of the paths.\n" +
			"A directory matches every file below it. Without paths, the files\n" +
			"with local changes in the index or worktree are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			s, err := a.openStack(r, stack.AllowUninitialized)
			if err != nil {
				return err
			}
			applied := s.Applied()
			if len(applied) == 0 {
				return stack.ErrNoAppliedPatches
			}
			paths, err := pathspecs(r, args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return usagef("no local changes and no paths given")
			}

			out := cmd.OutOrStdout()
			for _, n := range applied {
				changes, err := s.PatchChanges(n)
				if err != nil {
					return err
				}
				if touchesAny(changes, paths) {
					fmt.Fprintln(out, n)
				}
			}
			return nil
		},
	}
}

// pathspecs turns args into repo-relative paths. Without args it returns
// the tracked paths with local changes.
func pathspecs(r *repo.Repo, args []string) ([]string, error) {
	var paths []string
	if len(args) == 0 {
		entries, err := r.Status()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IndexStatus != repo.StatusUntracked {
				paths = append(paths, e.Path)
			}
		}
		return paths, nil
	}
	for _, arg := range args {
		p, err := r.RelPath(arg)
		if err != nil {
			return nil, usagef("%v", err)
		}
		if p == ".." || strings.HasPrefix(p, "../") {
			return nil, usagef("%s is outside the repository", arg)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func touchesAny(changes []repo.TreeChange, paths []string) bool {
	for _, ch := range changes {
		for _, p := range paths {
			if p == "." || ch.Path == p || strings.HasPrefix(ch.Path, p+"/") {
				return true
			}
		}
	}
	return false
}
