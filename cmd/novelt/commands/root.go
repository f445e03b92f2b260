// Package commands defines all Cobra CLI commands for the novelt binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/novelt-go/internal/audit"
	"github.com/54b3r/novelt-go/internal/config"
	"github.com/54b3r/novelt-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "novelt",
		Short: "novelt: context-aware novel translation with quality retries",
		Long: `novelt translates novels chapter by chapter through any OpenAI-compatible
chat-completions endpoint.

Every request carries the novel's glossary and as many previously translated
chapters as fit the context budget, so names and tone stay consistent. An
optional quality gate grades each draft and retries with feedback.

Settings come from environment variables (NOVELT_*, QUALITY_*), a .env file
or a YAML config file (~/.novelt/config.yaml).
See 'novelt --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := slog.Default()
			config.LoadDotEnv(boot)

			// YAML values are exported as env vars, so the logger is built
			// after loading to pick up LOG_LEVEL and friends.
			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}

			log := logging.New()
			slog.SetDefault(log)
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.novelt/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewTranslateCmd(),
		NewCheckCmd(),
		NewImportCmd(),
		NewVersionCmd(),
	)

	return root
}
