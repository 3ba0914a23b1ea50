// Package cli implements the nibras command line client for the chat proxy.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nibras",
		Short:         "Talk to the Nibras chat proxy from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAskCmd(), newTokenCmd())
	return root
}
