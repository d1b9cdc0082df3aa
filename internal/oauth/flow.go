// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/browser"
)

// ============================================================================
// Interactive Login Flow
// ============================================================================

const (
	// loginTimeout bounds how long the flow waits for the user to complete
	// authorization in the browser.
	loginTimeout = 5 * time.Minute

	successPage = `<!DOCTYPE html>
<html>
<head><title>Authorization Complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

	errorPage = `<!DOCTYPE html>
<html>
<head><title>Authorization Failed</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Authorization failed</h1>
<p>%s</p>
<p>Return to the terminal and try again.</p>
</body>
</html>`
)

// Flow runs the interactive authorization-code login: it starts a local
// callback server, opens the browser to the authorization URL, and feeds the
// returned code to the token manager.
type Flow struct {
	Manager *Manager
	Port    int
	Logger  *slog.Logger

	// openBrowser is swappable in tests.
	openBrowser func(url string) error
}

type callbackResult struct {
	code string
	err  error
}

// Login drives the full flow and blocks until tokens are stored, the user
// denies authorization, or the timeout elapses.
func (f *Flow) Login(ctx context.Context) error {
	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	open := f.openBrowser
	if open == nil {
		open = browser.OpenURL
	}

	authURL, state, err := f.Manager.AuthorizationURL()
	if err != nil {
		return err
	}

	callbackPath := "/oauth/callback"
	if u, err := url.Parse(f.Manager.cfg.RedirectURI); err == nil && u.Path != "" {
		callbackPath = u.Path
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", f.Port))
	if err != nil {
		return fmt.Errorf("starting callback server: %w", err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, state, results)
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("callback server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("opening browser for Snowflake authorization", "url", authURL)
	if err := open(authURL); err != nil {
		log.Warn("could not open browser, visit the URL manually", "url", authURL, "error", err)
	}

	select {
	case res := <-results:
		if res.err != nil {
			return res.err
		}
		if err := f.Manager.ExchangeCode(ctx, res.code); err != nil {
			return err
		}
		log.Info("authorization complete, tokens stored")
		return nil
	case <-time.After(loginTimeout):
		return fmt.Errorf("timed out waiting for authorization after %s", loginTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleCallback validates one authorization callback and reports the code
// or failure on the results channel.
func handleCallback(w http.ResponseWriter, r *http.Request, wantState string, results chan<- callbackResult) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = errCode
		}
		writePage(w, http.StatusBadRequest, fmt.Sprintf(errorPage, desc))
		report(results, callbackResult{err: fmt.Errorf("authorization denied: %s", desc)})
		return
	}

	if q.Get("state") != wantState {
		writePage(w, http.StatusBadRequest, fmt.Sprintf(errorPage, "State mismatch. Possible CSRF attempt."))
		report(results, callbackResult{err: fmt.Errorf("state mismatch in authorization callback")})
		return
	}

	code := q.Get("code")
	if code == "" {
		writePage(w, http.StatusBadRequest, fmt.Sprintf(errorPage, "No authorization code received."))
		report(results, callbackResult{err: fmt.Errorf("authorization callback missing code")})
		return
	}

	writePage(w, http.StatusOK, successPage)
	report(results, callbackResult{code: code})
}

func report(results chan<- callbackResult, res callbackResult) {
	select {
	case results <- res:
	default:
		// A second callback raced the first; ignore it.
	}
}

func writePage(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
