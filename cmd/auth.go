package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cway-mcp/internal/app"
	"cway-mcp/internal/session"
)

var (
	authUser  string
	authQuiet bool
	authDebug bool
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Cway logins",
	Long: `Manage the per-user Cway sessions used by the MCP server.

Sessions are stored encrypted in storage.tokenDir and shared with any running
'cway-mcp serve' process, which picks up changes made here.

Examples:
  cway-mcp auth login                      # Log in through the browser
  cway-mcp auth login -u alice@example.com # Log in as a specific user
  cway-mcp auth status                     # Show the session of the default user
  cway-mcp auth list                       # Show every stored session
  cway-mcp auth refresh                    # Force a token refresh
  cway-mcp auth logout                     # Remove the default user's session
  cway-mcp auth logout --all               # Remove every stored session`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored sessions",
	Long: `Remove a stored session, requiring a new login before the user can act
through the MCP server again.

Examples:
  cway-mcp auth logout                     # Logout the default user
  cway-mcp auth logout -u alice@example.com
  cway-mcp auth logout --all               # Remove every stored session
  cway-mcp auth logout --all --yes         # Remove every session without confirmation`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the stored refresh token for a new access token now, regardless
of how long the current one remains valid.

Exits with code 2 when the user has to log in again.`,
	Args: cobra.NoArgs,
	RunE: runAuthRefresh,
}

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's session",
	Long: `Show whether a user is logged in and when their token expires.

Exits with code 2 when the user has no session.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

// authListCmd represents the auth list command
var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

// Logout-specific flags
var (
	logoutAll bool
	logoutYes bool
)

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !authQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRefreshCmd)

	authCmd.PersistentFlags().StringVarP(&authUser, "user", "u", "", "Cway username (default: username from config.yaml)")
	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")
	authCmd.PersistentFlags().BoolVar(&authDebug, "debug", false, "Enable debug logging")

	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove every stored session")
	authLogoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip confirmation prompt for --all")
}

// openSessions loads the configuration and the session components. The
// returned close function must be called when done.
func openSessions(cmd *cobra.Command) (*app.Services, func(), error) {
	cfg := app.NewConfig(authDebug, configPath, "")
	cfg.Silent = true
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(cmd.Context(), cfg, GetVersion())
	if err != nil {
		return nil, nil, err
	}
	s := application.Services()
	if s.Sessions == nil {
		application.Close()
		return nil, nil, errors.New("auth.method is static: the server uses a shared API token and has no user logins")
	}
	return s, application.Close, nil
}

// resolveUser picks the user a command acts on: --user, then the configured
// username, then the only stored session.
func resolveUser(s *app.Services) (string, error) {
	if authUser != "" {
		return authUser, nil
	}
	if s.Config.Username != "" {
		return s.Config.Username, nil
	}
	users, err := s.Sessions.ListUsers()
	if err != nil {
		return "", err
	}
	switch len(users) {
	case 0:
		return "", fmt.Errorf("no stored sessions: %w", session.ErrNotAuthenticated)
	case 1:
		return users[0], nil
	default:
		return "", fmt.Errorf("%d users are logged in; choose one with --user", len(users))
	}
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	s, closeServices, err := openSessions(cmd)
	if err != nil {
		return err
	}
	defer closeServices()

	if logoutAll {
		users, err := s.Sessions.ListUsers()
		if err != nil {
			return err
		}
		if len(users) == 0 {
			authPrintln(cmd, "No stored sessions to remove.")
			return nil
		}

		if !logoutYes {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "The following %d session(s) will be removed:\n", len(users))
			for _, u := range users {
				fmt.Fprintf(out, "  - %s\n", u)
			}
			fmt.Fprint(out, "\nAre you sure you want to remove all sessions? [y/N]: ")

			reader := bufio.NewReader(cmd.InOrStdin())
			response, err := reader.ReadString('\n')
			if err != nil && response == "" {
				return fmt.Errorf("failed to read response: %w", err)
			}
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}
		}

		n, err := s.Store.Clear()
		if err != nil {
			return fmt.Errorf("failed to remove sessions: %w", err)
		}
		authPrint(cmd, "Removed %d stored session(s).\n", n)
		return nil
	}

	user, err := resolveUser(s)
	if err != nil {
		return err
	}
	existed, err := s.Sessions.Logout(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	if !existed {
		authPrint(cmd, "%s was not logged in.\n", user)
		return nil
	}
	authPrint(cmd, "Logged out %s\n", user)
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	s, closeServices, err := openSessions(cmd)
	if err != nil {
		return err
	}
	defer closeServices()

	user, err := resolveUser(s)
	if err != nil {
		return err
	}

	authPrint(cmd, "Refreshing token for %s...\n", user)
	info, err := s.Sessions.ForceRefresh(cmd.Context(), user)
	if err != nil {
		if session.IsReauthRequired(err) {
			return fmt.Errorf("%w; run 'cway-mcp auth login -u %s'", err, user)
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	authPrint(cmd, "Token refreshed, expires %s.\n", formatExpiryWithDirection(info.ExpiresAt))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	s, closeServices, err := openSessions(cmd)
	if err != nil {
		return err
	}
	defer closeServices()

	user, err := resolveUser(s)
	if err != nil {
		return err
	}
	info, err := s.Sessions.Info(cmd.Context(), user)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:          %s\n", info.Username)
	fmt.Fprintf(out, "Status:        %s\n", formatSessionStatus(info))
	if !info.Authenticated {
		fmt.Fprintf(out, "\nRun 'cway-mcp auth login -u %s' to log in.\n", info.Username)
		return fmt.Errorf("%s: %w", info.Username, session.ErrNotAuthenticated)
	}
	fmt.Fprintf(out, "Expires:       %s (%s)\n", info.ExpiresAt.Local().Format(time.RFC1123), formatExpiryWithDirection(info.ExpiresAt))
	fmt.Fprintf(out, "Refresh token: %s\n", yesNo(info.HasRefreshToken))
	if !info.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Updated:       %s\n", info.UpdatedAt.Local().Format(time.RFC1123))
	}
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	s, closeServices, err := openSessions(cmd)
	if err != nil {
		return err
	}
	defer closeServices()

	users, err := s.Sessions.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		authPrintln(cmd, "No stored sessions. Run 'cway-mcp auth login' to log in.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"USER", "STATUS", "EXPIRES", "REFRESH TOKEN"})
	for _, u := range users {
		info, err := s.Sessions.Info(cmd.Context(), u)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{info.Username, formatSessionStatus(info), formatExpiryWithDirection(info.ExpiresAt), yesNo(info.HasRefreshToken)})
	}
	t.Render()
	return nil
}

// formatSessionStatus renders a one-word, colored session state.
func formatSessionStatus(info *session.Info) string {
	switch {
	case !info.Authenticated:
		return color.New(color.FgRed).Sprint("Not logged in")
	case !info.Valid && info.HasRefreshToken:
		return color.New(color.FgYellow).Sprint("Expired (will refresh)")
	case !info.Valid:
		return color.New(color.FgRed).Sprint("Expired")
	case info.ExpiringSoon:
		return color.New(color.FgYellow).Sprint("Expiring soon")
	default:
		return color.New(color.FgGreen).Sprint("Logged in")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
