package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotstack/pkg/stack"
)

// Exit codes. A conflict gets its own code so scripts can tell it apart.
const (
	exitGeneral  = 1
	exitCommand  = 2
	exitConflict = 3
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stg: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "stg",
		Short:         "Manage a stack of patches on a got branch",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr(), cmd.OutOrStdout())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usagef("%v", err)
	})
	f := root.PersistentFlags()
	f.StringVarP(&a.branch, "branch", "b", "", "operate on this branch instead of the current one")
	f.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.StringVar(&a.conflictPolicy, "conflict-policy", "halt", "on a push conflict: halt (keep progress) or abort (publish nothing)")
	f.StringVar(&a.colorMode, "color", "auto", "colorize output (auto, always, never)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newAddCmd(a),
		newNewCmd(a),
		newRefreshCmd(a),
		newPushCmd(a),
		newPopCmd(a),
		newGotoCmd(a),
		newSeriesCmd(a),
		newDeleteCmd(a),
		newHideCmd(a),
		newUnhideCmd(a),
		newRenameCmd(a),
		newFloatCmd(a),
		newSinkCmd(a),
		newSquashCmd(a),
		newPickCmd(a),
		newResetCmd(a),
		newUndoCmd(a),
		newLogCmd(a),
		newRepairCmd(a),
		newProtectCmd(a, true),
		newProtectCmd(a, false),
		newBranchCmd(a),
		newFilesCmd(a),
		newPatchesCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "stg 0.1.0-dev")
		},
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return exitCommand
	}
	switch stack.Kind(err) {
	case stack.KindConflict:
		return exitConflict
	case stack.KindUser, stack.KindPrecondition:
		return exitCommand
	}
	return exitGeneral
}

// usageError is a bad command line.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
