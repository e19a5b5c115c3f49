package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/decilog/decilog/internal/app"
	"github.com/decilog/decilog/internal/config"
	"github.com/decilog/decilog/internal/log"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// setup loads configuration, validates it, and initializes the AI runtime.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.NewWithWriter(os.Stderr, log.Config{Level: level})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing AI runtime: %w", err)
	}
	return a, nil
}
