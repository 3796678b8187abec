// Package cmd implements the CLI commands for hlsfetch.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/hlsfetch/internal/config"
	"github.com/jmylchreest/hlsfetch/internal/observability"
	"github.com/jmylchreest/hlsfetch/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlsfetch",
	Short:   "Resolve and download an HLS playlist to a single media file",
	Version: version.Short(),
	Long: `hlsfetch resolves a master or media M3U8 playlist, fetches its segments
with bounded concurrency and per-segment retry/backoff, validates the
result, and assembles a byte-exact MP4 or MPEG-TS file (or size-bounded
parts for very large streams).

It can run as a one-shot CLI download or as a long-running server that
accepts jobs over HTTP and dispatches them through a worker pool.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml in ., ./configs, /etc/hlsfetch or $HOME/.hlsfetch)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Bind flags to viper
	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".hlsfetch" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hlsfetch")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hlsfetch")
	}

	// Environment variables
	viper.SetEnvPrefix("HLSFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the process-wide default logger from viper-bound
// flags, routed through observability.NewLogger so every subcommand's
// slog.Default() call (and everything built before a subcommand constructs
// its own request-scoped logger) redacts cookie/token/secret fields the
// same way.
func initLogging() error {
	cfg := config.LoggingConfig{
		Level:  strings.ToLower(viper.GetString("logging.level")),
		Format: strings.ToLower(viper.GetString("logging.format")),
	}

	logger := observability.NewLoggerWithWriter(cfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
// This helper ensures lint-compliant error handling for viper.BindPFlag.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
