package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/novelt-go/internal/version"
)

// NewVersionCmd constructs the `novelt version` subcommand. It prints the
// version, git commit and build date injected at build time via -ldflags.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the novelt version, git commit, and build date",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
