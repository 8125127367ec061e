package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cli/browser"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultRedirectURI is used when no redirect URI is supplied.
const DefaultRedirectURI = "http://localhost:8080"

// Manager runs the installed-app authorization code flow for one client.
type Manager struct {
	secrets       *ClientSecrets
	redirectURI   string
	openBrowser   func(url string) error
	customBrowser bool // opener came from WithBrowser and shows the URL itself
	httpClient    *http.Client
}

// Option configures a Manager.
type Option func(*Manager)

// WithRedirectURI overrides DefaultRedirectURI. An empty uri keeps the default.
func WithRedirectURI(uri string) Option {
	return func(m *Manager) {
		if uri != "" {
			m.redirectURI = uri
		}
	}
}

// WithBrowser replaces the function used to send the user to the consent page.
func WithBrowser(open func(url string) error) Option {
	return func(m *Manager) {
		m.openBrowser = open
		m.customBrowser = true
	}
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// NewManager creates a Manager for the given client secrets.
func NewManager(secrets *ClientSecrets, opts ...Option) (*Manager, error) {
	if secrets == nil {
		return nil, errors.New("client secrets are required")
	}

	m := &Manager{
		secrets:     secrets,
		redirectURI: DefaultRedirectURI,
		openBrowser: browser.OpenURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RedirectURI returns the redirect URI the next Authenticate call will bind.
func (m *Manager) RedirectURI() string {
	return m.redirectURI
}

// oauthConfig parses the secrets for the given scopes. The secrets file's own
// redirect_uris are ignored in favour of the manager's.
func (m *Manager) oauthConfig(scopes []string) (*oauth2.Config, error) {
	config, err := google.ConfigFromJSON(m.secrets.Raw(), scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = m.redirectURI
	return config, nil
}

func (m *Manager) context(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// Authenticate sends the user through the consent screen for scopes and returns the
// token obtained from the code exchange. It blocks until the provider redirects back
// to the local listener or ctx is done.
func (m *Manager) Authenticate(ctx context.Context, scopes []string) (*UserToken, error) {
	if len(scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}

	config, err := m.oauthConfig(scopes)
	if err != nil {
		return nil, err
	}

	// Start the callback listener before the user can possibly be redirected
	state := uuid.NewString()
	cs, err := listenForCallback(m.redirectURI, state)
	if err != nil {
		return nil, err
	}
	cs.serve()
	defer cs.shutdown(ctx)

	// Port 0 resolves to the bound port here
	config.RedirectURL = cs.RedirectURL()

	// Generate authorization URL
	verifier := oauth2.GenerateVerifier()
	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	// Open browser
	if m.customBrowser {
		slog.Info("waiting for authorization", "redirect_uri", config.RedirectURL, "scopes", scopes)
	} else {
		slog.Info("opening browser for authorization", "redirect_uri", config.RedirectURL, "scopes", scopes)
		slog.Info("if the browser doesn't open automatically, visit this URL", "url", authURL)
	}

	if err := m.openBrowser(authURL); err != nil {
		if m.customBrowser {
			slog.Warn("failed to open consent URL", "error", err, "url", authURL)
		} else {
			slog.Warn("failed to open browser automatically", "error", err)
		}
	}

	// Wait for authorization code or error
	code, err := cs.wait(ctx)
	if err != nil {
		return nil, err
	}

	// Exchange authorization code for token
	tok, err := config.Exchange(m.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
	}

	return newUserToken(tok, config, scopes), nil
}

// Client returns an HTTP client authorized with tok. Refreshed access tokens stay in
// memory; the token file is not rewritten.
func (m *Manager) Client(ctx context.Context, tok *UserToken) (*http.Client, error) {
	config, err := m.oauthConfig(tok.Scopes)
	if err != nil {
		return nil, err
	}
	return config.Client(m.context(ctx), tok.OAuth2Token()), nil
}
