package oauth

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"cway-mcp/pkg/logging"
)

// LoginCompleter finishes a pending login from callback parameters and
// returns the username the session was stored under.
type LoginCompleter interface {
	CompleteLogin(ctx context.Context, code, state string) (string, error)
}

// Handler serves the OAuth redirect callback.
type Handler struct {
	completer LoginCompleter
}

// NewHandler creates a callback handler.
func NewHandler(completer LoginCompleter) *Handler {
	return &Handler{completer: completer}
}

// HandleCallback is called by the browser after the user authenticates with
// the identity provider.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		logging.Warn("OAuth", "Callback received provider error: %s", errParam)
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Authentication Failed",
			Message: "The identity provider reported: " + q.Get("error_description"),
		})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Authentication Failed",
			Message: "Invalid callback: missing required parameters.",
		})
		return
	}

	username, err := h.completer.CompleteLogin(r.Context(), code, state)
	if err != nil {
		status, msg := http.StatusBadGateway, "Failed to complete authentication. Please try again."
		if errors.Is(err, ErrCSRFValidation) {
			status, msg = http.StatusBadRequest, "This login link has expired or was already used. Start the login again."
		}
		logging.Error("OAuth", err, "Callback failed")
		renderPage(w, status, pageData{Title: "Authentication Failed", Message: msg})
		return
	}

	renderPage(w, http.StatusOK, pageData{
		Title:    "Authentication Successful",
		Message:  "You can now close this window and return to your assistant.",
		Username: username,
		Success:  true,
	})
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

type pageData struct {
	Title    string
	Message  string
	Username string
	Success  bool
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}} - Cway MCP</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; min-height: 100vh;
               background: #f4f6f8; color: #222; }
        .box { background: #fff; padding: 2.5rem; border-radius: 12px; max-width: 480px;
               box-shadow: 0 2px 12px rgba(0,0,0,0.08); text-align: center; }
        h1 { font-size: 1.5rem; margin-bottom: 0.75rem; }
        .ok { color: #0a8f5a; }
        .fail { color: #c0392b; }
        .user { font-weight: 600; }
    </style>
</head>
<body>
    <div class="box">
        <h1 class="{{if .Success}}ok{{else}}fail{{end}}">{{.Title}}</h1>
        {{if .Username}}<p>Signed in as <span class="user">{{.Username}}</span>.</p>{{end}}
        <p>{{.Message}}</p>
    </div>
</body>
</html>`))

func renderPage(w http.ResponseWriter, status int, data pageData) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		logging.Error("OAuth", err, "Failed to render callback page")
	}
}
