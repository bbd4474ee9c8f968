package app

import (
	"context"
	"fmt"
	"os"

	"cway-mcp/internal/config"
	"cway-mcp/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs cway-mcp.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, create services
//  2. Execution phase: serve MCP and the HTTP endpoints until cancelled
//
// Example usage:
//
//	cfg := app.NewConfig(false, "", "")
//	application, err := app.NewApplication(ctx, cfg, version)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close()
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration from cfg.ConfigPath (the default
// location when empty), configures logging and initializes all services.
// A configuration already set in cfg.Cway is used as is.
func NewApplication(ctx context.Context, cfg *Config, version string) (*Application, error) {
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}
	bootLevel := logging.LevelInfo
	switch {
	case cfg.Debug:
		bootLevel = logging.LevelDebug
	case cfg.Silent:
		bootLevel = logging.LevelWarn
	}
	logging.InitForCLI(bootLevel, cfg.LogOutput)

	if cfg.Cway == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			configPath = config.GetDefaultConfigPathOrPanic()
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
		cfg.Cway = &loaded
	}
	if cfg.Transport != "" {
		cfg.Cway.Server.Transport = cfg.Transport
	}

	level := logging.ParseLevel(cfg.Cway.Logging.Level)
	switch {
	case cfg.Debug:
		level = logging.LevelDebug
	case cfg.Silent && level < logging.LevelWarn:
		level = logging.LevelWarn
	}
	logging.Init(level, cfg.Cway.Logging.Format, cfg.LogOutput)

	services, err := InitializeServices(ctx, cfg, version)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services returns the initialized services.
func (a *Application) Services() *Services { return a.services }

// Run serves until ctx is cancelled, a termination signal arrives or, in
// stdio mode, the client closes stdin.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.config, a.services)
}

// Close releases background resources.
func (a *Application) Close() {
	a.services.Close()
}
