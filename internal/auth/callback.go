package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const shutdownTimeout = 5 * time.Second

// callbackResult is what the provider's redirect delivered.
type callbackResult struct {
	code string
	err  error
}

// callbackServer receives the authorization redirect on a loopback listener.
type callbackServer struct {
	redirectURL *url.URL
	state       string
	server      *http.Server
	listener    net.Listener
	resultCh    chan callbackResult
	serveErrCh  chan error
}

// listenForCallback binds the listener for redirectURI. When the URI's port is 0 the
// kernel picks one and the returned server's RedirectURL reflects it.
func listenForCallback(redirectURI, state string) (*callbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI %q must use http on a loopback address", redirectURI)
	}

	// Bind before the consent URL is handed out
	port := u.Port()
	if port == "" {
		port = "80"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}

	if port == "0" {
		_, actual, _ := net.SplitHostPort(ln.Addr().String())
		u.Host = net.JoinHostPort(u.Hostname(), actual)
	}

	cs := &callbackServer{
		redirectURL: u,
		state:       state,
		listener:    ln,
		resultCh:    make(chan callbackResult, 1),
		serveErrCh:  make(chan error, 1),
	}
	cs.server = &http.Server{
		Handler:           http.HandlerFunc(cs.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return cs, nil
}

// RedirectURL is the redirect URI to register with the authorization request.
func (cs *callbackServer) RedirectURL() string {
	return cs.redirectURL.String()
}

func (cs *callbackServer) callbackPath() string {
	if cs.redirectURL.Path == "" {
		return "/"
	}
	return cs.redirectURL.Path
}

// serve starts accepting connections in the background.
func (cs *callbackServer) serve() {
	go func() {
		if err := cs.server.Serve(cs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cs.serveErrCh <- fmt.Errorf("local server failed: %w", err)
		}
	}()
}

func (cs *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != cs.callbackPath() {
		http.NotFound(w, r)
		return
	}

	// Handle OAuth callback
	query := r.URL.Query()
	var res callbackResult
	switch {
	case query.Get("state") != cs.state:
		res.err = ErrStateMismatch
	case query.Get("error") != "":
		res.err = fmt.Errorf("%w: %s", ErrAuthorizationDenied, query.Get("error"))
		if desc := query.Get("error_description"); desc != "" {
			res.err = fmt.Errorf("%w (%s)", res.err, desc)
		}
	case query.Get("code") == "":
		res.err = ErrNoCode
	default:
		res.code = query.Get("code")
	}

	// Tell the user in the browser tab
	if res.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %v", res.err)
	} else {
		fmt.Fprintf(w, "Authorization successful! You can close this window and return to the terminal.")
	}

	// Only the first redirect counts; later hits (reloads) are dropped.
	select {
	case cs.resultCh <- res:
	default:
	}
}

// wait blocks until a callback arrives, the server fails, or ctx is done.
func (cs *callbackServer) wait(ctx context.Context) (string, error) {
	select {
	case res := <-cs.resultCh:
		return res.code, res.err
	case err := <-cs.serveErrCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// shutdown stops the server. It uses its own deadline so a cancelled ctx still
// lets the in-flight callback response finish.
func (cs *callbackServer) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := cs.server.Shutdown(sctx); err != nil {
		slog.Debug("local server shutdown", "error", err)
	}
}
