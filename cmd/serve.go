package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cway-mcp/internal/app"
	"cway-mcp/internal/config"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveTransport overrides server.transport from config.yaml.
var serveTransport string

// serveCmd starts the MCP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cway-mcp MCP server",
	Long: `Starts the MCP server that exposes the Cway API to AI assistants.

Transports:
  stdio            (default) MCP over stdin/stdout, for assistants that
                   launch cway-mcp as a subprocess. The process exits when
                   the assistant closes stdin.
  streamable-http  MCP over HTTP at /mcp on server.listen.

In oauth mode the HTTP listener also serves the login callback, so a login
started with the auth_login tool completes in this process. /healthz is
always served and /metrics when server.metrics is enabled.

Configuration:
  cway-mcp loads config.yaml from --config-path (default ~/.config/cway-mcp),
  then .env, then CWAY_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	switch serveTransport {
	case "", config.MCPTransportStdio, config.MCPTransportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport %q (expected %s or %s)", serveTransport, config.MCPTransportStdio, config.MCPTransportStreamableHTTP)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := app.NewConfig(serveDebug, configPath, serveTransport)
	application, err := app.NewApplication(ctx, cfg, GetVersion())
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "MCP transport: stdio or streamable-http (overrides config)")
}
