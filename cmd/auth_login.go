package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"cway-mcp/internal/app"
	"cway-mcp/internal/oauth"
	"cway-mcp/pkg/logging"
)

// Login-specific flags
var (
	loginNoBrowser bool
	loginTimeout   time.Duration
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Cway through the browser",
	Long: `Log in to Cway with the identity provider and store the session.

A local listener on the host and port of auth.redirectUrl receives the
callback, so no 'cway-mcp serve' may be running on that port. When a server
is running, ask the assistant to call the auth_login tool instead.

Without --user the username is taken from the identity token.

Examples:
  cway-mcp auth login
  cway-mcp auth login -u alice@example.com
  cway-mcp auth login --no-browser       # Print the URL only`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", 0, "How long to wait for the browser login (default: auth.loginExpiry)")
}

type loginResult struct {
	username string
	err      error
}

// notifyingCompleter reports the outcome of the login it was started for.
// Callbacks carrying an unknown state are answered but do not end the wait.
type notifyingCompleter struct {
	next oauth.LoginCompleter
	done chan<- loginResult
}

func (c *notifyingCompleter) CompleteLogin(ctx context.Context, code, state string) (string, error) {
	username, err := c.next.CompleteLogin(ctx, code, state)
	if errors.Is(err, oauth.ErrCSRFValidation) {
		return username, err
	}
	select {
	case c.done <- loginResult{username: username, err: err}:
	default:
	}
	return username, err
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, closeServices, err := openSessions(cmd)
	if err != nil {
		return err
	}
	defer closeServices()

	addr, path, err := callbackAddress(s.Config.Auth.RedirectURL)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot receive the login callback on %s (is 'cway-mcp serve' running? then use its auth_login tool): %w", addr, err)
	}

	done := make(chan loginResult, 1)
	router := mux.NewRouter()
	router.HandleFunc(path, oauth.NewHandler(&notifyingCompleter{next: s.Login, done: done}).HandleCallback).Methods(http.MethodGet)
	srv := &http.Server{Handler: router, ReadHeaderTimeout: app.DefaultReadHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("CLI", err, "Callback listener failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	user := authUser
	if user == "" {
		user = s.Config.Username
	}
	req, err := s.Login.Begin(user)
	if err != nil {
		return fmt.Errorf("failed to start login: %w", err)
	}

	if loginNoBrowser {
		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser to log in:\n\n  %s\n\n", req.URL)
	} else {
		authPrintln(cmd, "Opening browser to log in to Cway...")
		if err := openBrowser(req.URL); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Could not open a browser (%v). Open this URL to log in:\n\n  %s\n\n", err, req.URL)
		} else {
			authPrint(cmd, "If the browser does not open, visit:\n\n  %s\n\n", req.URL)
		}
	}

	timeout := loginTimeout
	if timeout <= 0 {
		timeout = s.Config.Auth.LoginExpiry
	}

	var spin *spinner.Spinner
	if !authQuiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		spin.Suffix = " Waiting for the browser login..."
		spin.Start()
	}
	username, err := waitForLogin(ctx, done, timeout)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	authPrint(cmd, "%s Logged in as %s\n", color.New(color.FgGreen).Sprint("✓"), username)
	return nil
}

// waitForLogin blocks until the callback completes the login, the timeout
// passes or ctx ends.
func waitForLogin(ctx context.Context, done <-chan loginResult, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("login failed: %w", r.err)
		}
		return r.username, nil
	case <-timer.C:
		return "", fmt.Errorf("login was not completed within %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
