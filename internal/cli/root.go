package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tlog/internal/logging"
)

// ExitError carries the exit status of a recorded command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewRootCmd creates the root tlog command.
func NewRootCmd() *cobra.Command {
	var (
		logFile  string
		closeLog func() error
	)

	root := &cobra.Command{
		Use:   "tlog",
		Short: "Terminal session recording and playback",
		Long: `tlog records what happens on a terminal into structured logs
(files, the journal, syslog, Redis or SQLite) and plays it back with
the original timing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := logging.Init(logFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			closeLog = c
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog == nil {
				return nil
			}
			return closeLog()
		},
	}
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also write the log to this file (default $"+logging.EnvPath+")")

	root.AddCommand(
		newRecCmd(),
		newPlayCmd(),
		newSimulateCmd(),
		newGenerateCmd(),
	)

	return root
}
