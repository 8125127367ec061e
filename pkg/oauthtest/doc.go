// Package oauthtest provides a mock Google OAuth provider for testing.
//
// The mock implements the parts of Google's installed-app flow that gcalauth
// touches, so login tests run without a browser, a Google account or network access.
//
// # Supported Endpoints
//
//   - Consent: GET /o/oauth2/auth (redirects to redirect_uri with code and state)
//   - Token: POST /token (authorization_code with PKCE S256, refresh_token)
//   - Calendar: GET /calendars/{calendarId} (bearer token required)
//
// # Basic Usage
//
//	server := oauthtest.NewServer()
//	defer server.Close()
//
//	secrets, err := auth.ParseClientSecrets(server.ClientSecretsJSON())
//	mgr, err := auth.NewManager(secrets,
//	    auth.WithRedirectURI("http://127.0.0.1:0"),
//	    auth.WithBrowser(server.Browser))
//	tok, err := mgr.Authenticate(ctx, []string{auth.ScopeCalendar})
//
// # Test Helpers
//
//	// Refuse consent on the next request
//	server.Deny("access_denied")
//
//	// Inspect what the client asked for
//	reqs := server.Requests()
//
//	// Clear all grants between tests
//	server.Reset()
//
// # Features
//
//   - Thread-safe: Uses mutex for concurrent access
//   - Single-use authorization codes bound to redirect_uri and PKCE challenge
//   - Client authentication via HTTP Basic or form parameters
//   - Granted scopes echoed in the token response's scope field
package oauthtest
