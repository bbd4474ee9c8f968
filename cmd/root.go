package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"cway-mcp/internal/config"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/session"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the user has no usable session and must log in.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the identity provider or the login flow rejected the user.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	envFile    string
)

// rootCmd represents the base command for the cway-mcp application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cway-mcp",
	Short: "MCP server for the Cway platform",
	Long: `cway-mcp exposes the Cway GraphQL API to AI assistants over the Model
Context Protocol.

Each user logs in once through the identity provider; sessions are stored
encrypted on disk and refreshed automatically. Destructive operations such as
closing or deleting projects are split into a preview step and a confirm step
guarded by a signed single-use token.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return config.LoadDotEnv()
		}
		return config.LoadDotEnv(envFile)
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cway-mcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case session.IsReauthRequired(err):
		return ExitCodeAuthRequired
	case errors.Is(err, oauth.ErrCSRFValidation), oauth.IsRejected(err):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of ./.env")
}
