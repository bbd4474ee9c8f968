package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cway-mcp/internal/config"
	"cway-mcp/internal/server"
	"cway-mcp/internal/tokenstore"
	"cway-mcp/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	shutdownTimeout          = 5 * time.Second
)

// runServer runs the MCP transport, the HTTP listener, the token file
// watcher and the confirmation janitor until one of them fails or the
// context ends.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
func runServer(ctx context.Context, cfg *Config, s *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := s.Config
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Confirm.RunJanitor(ctx, c.Confirmation.JanitorInterval)
		return nil
	})

	if s.Store != nil && c.Storage.Watch {
		w := tokenstore.NewWatcher(s.Store.Dir(), s.Sessions.Invalidate)
		if err := w.Start(); err != nil {
			logging.Warn("Bootstrap", "Token directory watcher disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	stdio := c.Server.Transport == config.MCPTransportStdio
	opts := server.RouterOptions{
		CallbackPath: callbackPath(c.Auth.RedirectURL),
		ServeMCP:     !stdio,
		ServeMetrics: c.Server.Metrics,
	}
	// In stdio mode HTTP only carries the login callback and metrics.
	needHTTP := !stdio || c.Auth.Method == config.AuthMethodOAuth || c.Server.Metrics

	if needHTTP {
		ln, err := net.Listen("tcp", c.Server.Listen)
		switch {
		case err == nil:
			logging.Info("Bootstrap", "HTTP listening on %s", ln.Addr())
			handler := s.Server.Router(opts)
			g.Go(func() error { return serveHTTP(ctx, ln, handler) })
		case stdio:
			// Another instance may own the port; MCP over stdio still works.
			logging.Warn("Bootstrap", "HTTP listener on %s unavailable, login callback and metrics disabled: %v", c.Server.Listen, err)
		default:
			return fmt.Errorf("failed to listen on %s: %w", c.Server.Listen, err)
		}
	}

	if stdio {
		in, out := cfg.In, cfg.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		g.Go(func() error {
			// The client closing stdin ends the process.
			defer cancel()
			return s.Server.ServeStdio(ctx, in, out)
		})
	}

	err := g.Wait()
	logging.Info("Bootstrap", "Shut down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveHTTP serves handler on ln until ctx is cancelled, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Bootstrap", "HTTP shutdown: %v", err)
	}
	return nil
}

// callbackPath is the path component of the redirect URL.
func callbackPath(redirectURL string) string {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Path == "" {
		return server.DefaultCallbackPath
	}
	return u.Path
}
