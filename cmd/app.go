package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/config"
	"github.com/codingofficer/internal/database"
	"github.com/codingofficer/internal/logging"
	"github.com/codingofficer/internal/notify"
)

// app bundles what every command needs once the configuration is loaded
type app struct {
	cfg   *config.Config
	store *database.Store
	hub   *notify.Hub
	logs  io.Closer
}

// loadConfig reads the file named by the global --config flag, after the
// optional --env-file has been applied
func loadConfig(c *cli.Context) (*config.Config, error) {
	if envFile := c.String("env-file"); envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration, sets up logging and opens the store
func openApp(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	logs, err := logging.Setup(level, cfg.Logging.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err := database.Open(commandContext(c), cfg.Database.Path)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Debug().Str("path", store.Path()).Msg("Database opened")

	return &app{
		cfg:   cfg,
		store: store,
		hub:   notify.NewHub(cfg.General.Language),
		logs:  logs,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
	a.logs.Close()
}

func commandContext(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
