package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/Shugur-Network/publisher/internal/application"
	"github.com/Shugur-Network/publisher/internal/config"
	"github.com/Shugur-Network/publisher/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// errPartialFailure makes the process exit with status 2: the command ran
// but some event reached no relay.
var errPartialFailure = stderrors.New("some events were not accepted by any relay")

// rootCmd defines the main CLI command for shugur publisher
var rootCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Shugur publisher broadcasts Nostr events to many relays at once",
	Long:  `Keeps connections to a set of Nostr relays and fans signed events out to all of them concurrently.`,
	Example: `
  publisher start --config /path/to/config.yaml
  publisher publish --content "hello nostr"
  publisher publish --file events.jsonl --relay wss://nos.lol
  publisher connect wss://relay.damus.io wss://nos.lol`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
			if err := logger.UpdateLevel(cfg.Logging.Level); err != nil {
				return err
			}
		}
		if flags.Changed("relay") {
			cfg.Relays.Defaults, _ = flags.GetStringSlice("relay")
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.ListenAddr, _ = flags.GetString("metrics-addr")
		}
		if flags.Changed("key-file") {
			cfg.Identity.KeyFile, _ = flags.GetString("key-file")
		}

		return cfg.Validate()
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context and returns the
// process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if stderrors.Is(err, errPartialFailure) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// oneShot builds a publisher for a single CLI action: no HTTP API and no
// reconnect loop.
func oneShot(ctx context.Context, opts ...application.Option) (*application.Publisher, error) {
	c := *cfg
	c.Metrics.Enabled = false
	c.Relays.ReconnectInterval = 0
	return application.New(ctx, &c, opts...)
}

func printWelcomeBanner() {
	fmt.Println("  ____  _                              ____        _     _ _     _               ")
	fmt.Println(" / ___|| |__  _   _  __ _ _   _ _ __  |  _ \\ _   _| |__ | (_)___| |__   ___ _ __ ")
	fmt.Println(" \\___ \\| '_ \\| | | |/ _` | | | | '__| | |_) | | | | '_ \\| | / __| '_ \\ / _ \\ '__|")
	fmt.Println("  ___) | | | | |_| | (_| | |_| | |    |  __/| |_| | |_) | | \\__ \\ | | |  __/ |   ")
	fmt.Println(" |____/|_| |_|\\__,_|\\__, |\\__,_|_|    |_|    \\__,_|_.__/|_|_|___/_| |_|\\___|_|   ")
	fmt.Println("                    |___/                                                        ")
	fmt.Println()
	fmt.Println("Welcome to Shugur Publisher - concurrent event broadcast for Nostr relays!")
}

// init is automatically called before main(), sets up flags and subcommands
func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceP("relay", "r", nil, "Relay URL to use instead of the configured defaults (repeatable)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Listen address for the HTTP API and Prometheus metrics")
	rootCmd.PersistentFlags().String("key-file", "", "Path to the signing key file")

	// A simple version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of shugur publisher",
		Long:  "Print the version number of shugur publisher along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")

	rootCmd.AddCommand(versionCmd, newStartCmd(), newPublishCmd(), newConnectCmd(), newKeygenCmd())
}
