// Package cli provides the command-line interface for clashcheck.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/client"
	"github.com/raphaelgruber/clashcheck/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config, logger and API client
	cfg       config.Config
	logger    *slog.Logger
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clashcheck",
	Short: "Clash detection for IFC building models",
	Long: `Clashcheck finds spatial conflicts between the elements of IFC building
models: a duct running through a beam, a pipe cutting a wall, a cable tray
closer to a sprinkler than the required clearance.

Element manifests are imported into the clashcheck server, detection jobs run
in the background, and the resulting clashes can be reviewed and resolved.
Use 'clashcheck check' to run a detection locally without a server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		logger = config.CLILogger(verbose, cfg.LogLevel)

		// Skip the API client for help and offline commands
		if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "check" {
			return nil
		}

		url := serverURL
		if url == "" {
			url = cfg.ServerURL
		}
		apiClient = client.New(url)
		logger.Debug("using server", "url", url)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $CLASHCHECK_SERVER_URL or http://localhost:8585)")

	// Add subcommands
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(clashesCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(checkCmd)
}
