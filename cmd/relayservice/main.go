/*
File: cmd/relayservice/main.go
Description: Main entrypoint for the relay service.
Handles logging, config loading, dependency injection, and starting the application.
*/
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tinywideclouds/go-presence-relay/internal/app"
	"github.com/tinywideclouds/go-presence-relay/relayservice"
	"github.com/tinywideclouds/go-presence-relay/relayservice/config"
)

const serviceName = "go-presence-relay"

//go:embed config.yaml
var configFile []byte

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cliApp := &cli.App{
		Name:  "relayservice",
		Usage: "Presence tracking and deferred delivery for chat clients",
		Commands: []*cli.Command{
			serverCmd(logger),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Error("Relay service exited with error", "err", err)
		os.Exit(1)
	}
}

func serverCmd(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the HTTP API and WebSocket servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML configuration file replacing the embedded one",
				EnvVars: []string{"RELAY_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			return runServer(c.Context, c.String("config"), logger)
		},
	}
}

// newLogger sets up structured logging (slog) at the requested level.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", serviceName)
}

// loadConfig runs all configuration stages.
func loadConfig(path string, logger *slog.Logger) (*config.AppConfig, error) {
	// Stage 0: Unmarshal
	raw := configFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		raw = data
	}
	yamlCfg, err := config.ParseYaml(raw)
	if err != nil {
		return nil, err
	}

	// Stage 1: YAML to base struct
	baseCfg, err := config.NewConfigFromYaml(yamlCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration from YAML: %w", err)
	}

	// Stage 2: Env overrides and validation
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}

func runServer(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	deps, durable, cleanup, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer cleanup()

	service, err := relayservice.New(cfg, deps, durable, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay service: %w", err)
	}

	return app.Run(ctx, logger,
		app.Named{Name: "api", Service: service},
		app.Named{Name: "websocket", Service: service.ConnectionManager()},
	)
}
