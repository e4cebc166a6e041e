package cli

import (
	internalcli "github.com/SmitUplenchwar2687/tlog/internal/cli"
	"github.com/spf13/cobra"
)

// ExitError carries the exit status of a recorded command.
type ExitError = internalcli.ExitError

// NewRootCmd creates the public tlog root command for embedding.
func NewRootCmd() *cobra.Command {
	return internalcli.NewRootCmd()
}
