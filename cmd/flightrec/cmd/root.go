package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/flightrec/internal/config"
	"github.com/snehjoshi/flightrec/internal/repository"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "flightrec",
	Short:         "Flight recorder for Go processes",
	Long:          `flightrec samples goroutines into self-describing binary chunks and reads them back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config file, applies the persistent flag overrides,
// validates the result and installs the slog default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.Log.Format = strings.ToLower(logFormat)
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Recording.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}
	var h slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func repositoryConfig(cfg *config.Config) (repository.Config, error) {
	rc := repository.Config{
		Fsync:           repository.FsyncPolicy(cfg.Storage.Fsync),
		FsyncIntervalMs: cfg.Storage.FsyncIntervalMs,
		FsyncBatchSize:  cfg.Storage.FsyncBatchSize,
		MaxChunks:       cfg.Storage.MaxChunks,
	}
	if cfg.Storage.RetentionInterval != "" {
		d, err := time.ParseDuration(cfg.Storage.RetentionInterval)
		if err != nil {
			return rc, fmt.Errorf("storage.retention_interval: %w", err)
		}
		rc.RetentionInterval = d
	}
	return rc, nil
}
