package main

import (
	"context"
	"fmt"
	"os"

	"github.com/learnloop/chatrelay/internal/application"
	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/logger"
	"github.com/learnloop/chatrelay/internal/metrics"
	"github.com/learnloop/chatrelay/internal/storage"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for chatrelay
var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "chatrelay persists chat messages and pushes them to connected users",
	Long:  `Real-time fan-out of community and direct messages over WebSockets.`,
	Example: `
  chatrelay start --ws-addr :8080 --store-driver pebble --pebble-path ./data
  chatrelay start --store-driver postgres --db-url postgres://chat@localhost/chat
  chatrelay seed --file fixtures.yaml
  chatrelay start --config /path/to/config.yaml`,
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
		if flags.Changed("ws-addr") {
			cfg.Chat.WSAddr, _ = flags.GetString("ws-addr")
		}
		if flags.Changed("store-driver") {
			cfg.Store.Driver, _ = flags.GetString("store-driver")
		}
		if flags.Changed("pebble-path") {
			cfg.Store.PebblePath, _ = flags.GetString("pebble-path")
		}
		if flags.Changed("db-url") {
			cfg.Store.URL, _ = flags.GetString("db-url")
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
		}
		if flags.Changed("log-format") {
			cfg.Logging.Format, _ = flags.GetString("log-format")
		}
		if flags.Changed("metrics-port") {
			cfg.Metrics.Port, _ = flags.GetInt("metrics-port")
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}

		return config.InitLogger(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chat relay server",
	Long:  "Start the WebSocket endpoint, the history API and the metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.New("cli")
		ctx := cmd.Context()

		metrics.RegisterMetrics()

		log.Info("Starting chatrelay...", zap.String("version", GetVersion()))
		app, err := application.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize chatrelay: %w", err)
		}
		if err := app.Start(ctx); err != nil {
			app.Shutdown()
			return fmt.Errorf("failed to start chatrelay: %w", err)
		}

		<-app.Done()
		log.Info("Shutdown signal received, initiating graceful shutdown...")
		app.Shutdown()
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users, communities and memberships from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.New("seed")
		path, _ := cmd.Flags().GetString("file")

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open fixtures: %w", err)
		}
		defer f.Close()

		fixtures, err := storage.DecodeFixtures(f)
		if err != nil {
			return err
		}

		store, err := storage.Open(cmd.Context(), cfg.Store, logger.New("storage"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if err := fixtures.Apply(cmd.Context(), store); err != nil {
			return fmt.Errorf("apply fixtures: %w", err)
		}
		log.Info("Fixtures applied",
			zap.String("file", path),
			zap.Int("users", len(fixtures.Users)),
			zap.Int("communities", len(fixtures.Communities)))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of chatrelay",
	Long:  "Print the version number of chatrelay along with build information",
	Run: func(cmd *cobra.Command, args []string) {
		if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
			fmt.Println(GetFullVersionInfo())
		} else {
			fmt.Println(GetVersionWithPrefix())
		}
	},
}

func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")
	rootCmd.PersistentFlags().String("store-driver", "", "Message store driver (pebble or postgres)")
	rootCmd.PersistentFlags().String("pebble-path", "", "Pebble data directory")
	rootCmd.PersistentFlags().String("db-url", "", "PostgreSQL connection URL")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format (console or json)")

	startCmd.Flags().String("ws-addr", "", "Listen address of the chat server")
	startCmd.Flags().Int("metrics-port", 9090, "Port for Prometheus metrics server")

	seedCmd.Flags().StringP("file", "f", "", "Fixtures YAML file")
	_ = seedCmd.MarkFlagRequired("file")

	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")

	rootCmd.AddCommand(startCmd, seedCmd, versionCmd)
}
