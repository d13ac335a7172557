/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jjudge-oj/identity/config"
	"github.com/spf13/cobra"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "identity",
	Short: "User identity service",
	Long: `Registers users, issues session tokens and runs password resets.

	identity server
	identity migrate up
	identity passwd <username>
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file to load before reading the environment")
}

// loadConfig reads configuration and installs the default logger for it.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// requirePersistentStore rejects commands that would act on a fresh,
// empty in-memory store.
func requirePersistentStore(cfg config.Config, command string) error {
	if cfg.Database.InMemory() {
		return fmt.Errorf("%s needs a database: DATABASE_URL is %s", command, config.MemoryDatabaseURL)
	}
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		fmt.Fprintf(os.Stderr, "unknown LOG_LEVEL %q, using info\n", s)
		return slog.LevelInfo
	}
	return level
}
