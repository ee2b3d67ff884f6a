// Package commands defines all Cobra CLI commands for the studycrew binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/studycrew-go/internal/audit"
	"github.com/54b3r/studycrew-go/internal/config"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studycrew",
		Short: "Study crew: ask questions about your course documents",
		Long: `studycrew answers student questions from uploaded course documents.

Each question is answered by a crew of experts (tutor, coach, analyst) working
from passages retrieved from the document, and their answers are condensed
into one final response by a synthesizer.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.studycrew/config.yaml).
See 'studycrew --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first so YAML and real env vars can both override it.
			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.studycrew/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultDotEnv, "Path to a .env file loaded before the config file")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewDocumentsCmd(),
		NewVersionCmd(),
	)

	return root
}
