package app

import (
	"io"

	"cway-mcp/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of logging.level.
	Debug bool

	// Custom configuration path (optional)
	ConfigPath string

	// Silent limits logging to warnings and errors unless Debug is set.
	// CLI commands use it so that progress output stays readable.
	Silent bool

	// Transport overrides server.transport when set.
	Transport string

	// Stdio streams for the stdio transport. Default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer

	// LogOutput receives logs. Defaults to os.Stderr so stdio MCP traffic on
	// stdout stays clean.
	LogOutput io.Writer

	// Resolved configuration, set by NewApplication.
	Cway *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, transport string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Transport:  transport,
	}
}
