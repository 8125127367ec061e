package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/drewfead/gcalauth/pkg/oauthtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loopbackAnyPort = "http://127.0.0.1:0/callback"

func newTestManager(t *testing.T, server *oauthtest.Server, opts ...Option) *Manager {
	t.Helper()

	secrets, err := ParseClientSecrets(server.ClientSecretsJSON())
	require.NoError(t, err)

	opts = append([]Option{WithRedirectURI(loopbackAnyPort), WithBrowser(server.Browser)}, opts...)
	mgr, err := NewManager(secrets, opts...)
	require.NoError(t, err)
	return mgr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// callbackBrowser skips the provider and hits the local callback directly with the
// query built from the request's state.
func callbackBrowser(query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect := u.Query().Get("redirect_uri")
		resp, err := http.Get(redirect + "?" + query(u.Query().Get("state")).Encode())
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func TestNewManager_Defaults(t *testing.T) {
	secrets, err := ParseClientSecrets([]byte(installedSecrets))
	require.NoError(t, err)

	mgr, err := NewManager(secrets)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", mgr.RedirectURI())

	mgr, err = NewManager(secrets, WithRedirectURI(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectURI, mgr.RedirectURI())

	mgr, err = NewManager(secrets, WithRedirectURI("http://127.0.0.1:9000"))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", mgr.RedirectURI())

	_, err = NewManager(nil)
	assert.Error(t, err)
}

func TestAuthenticate_Success(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	mgr := newTestManager(t, server)

	tok, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	require.NoError(t, err)

	assert.Equal(t, "authorized_user", tok.Type)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.After(time.Now()))
	assert.Equal(t, []string{ScopeCalendar}, tok.Scopes)
	assert.Equal(t, server.URL+oauthtest.TokenPath, tok.TokenURI)
	assert.Equal(t, oauthtest.DefaultClientID, tok.ClientID)
	assert.Equal(t, oauthtest.DefaultClientSecret, tok.ClientSecret)

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{ScopeCalendar}, reqs[0].Scopes)
	assert.Equal(t, "offline", reqs[0].AccessType)
	assert.Equal(t, "S256", reqs[0].CodeChallengeMethod)
	assert.NotEmpty(t, reqs[0].CodeChallenge)
	assert.NotEmpty(t, reqs[0].State)

	redirect, err := url.Parse(reqs[0].RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", redirect.Hostname())
	assert.NotEqual(t, "0", redirect.Port())
	assert.Equal(t, "/callback", redirect.Path)
}

func TestAuthenticate_ListenerClosedAfterwards(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	mgr := newTestManager(t, server)
	_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	require.NoError(t, err)

	redirect := server.Requests()[0].RedirectURI
	_, err = http.Get(redirect)
	assert.Error(t, err, "callback listener should be closed once Authenticate returns")
}

func TestAuthenticate_Denied(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()
	server.Deny("access_denied")

	mgr := newTestManager(t, server)

	tok, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	assert.Nil(t, tok)
	require.ErrorIs(t, err, ErrAuthorizationDenied)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestAuthenticate_CallbackErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   func(state string) url.Values
		wantErr error
	}{
		{
			name: "state mismatch",
			query: func(string) url.Values {
				return url.Values{"code": {"code1"}, "state": {"forged"}}
			},
			wantErr: ErrStateMismatch,
		},
		{
			name: "no code",
			query: func(state string) url.Values {
				return url.Values{"state": {state}}
			},
			wantErr: ErrNoCode,
		},
		{
			name: "provider error with description",
			query: func(state string) url.Values {
				return url.Values{"state": {state}, "error": {"access_denied"}, "error_description": {"user said no"}}
			},
			wantErr: ErrAuthorizationDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := oauthtest.NewServer()
			defer server.Close()

			mgr := newTestManager(t, server, WithBrowser(callbackBrowser(tt.query)))

			_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticate_ExchangeFailure(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	mgr := newTestManager(t, server, WithBrowser(callbackBrowser(func(state string) url.Values {
		return url.Values{"state": {state}, "code": {"never-issued"}}
	})))

	_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to exchange authorization code")
}

func TestAuthenticate_PortInUse(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	mgr := newTestManager(t, server, WithRedirectURI("http://"+ln.Addr().String()))

	_, err = mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start local server")
	assert.Empty(t, server.Requests())
}

func TestAuthenticate_ContextCancelled(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	opened := make(chan string, 1)
	mgr := newTestManager(t, server, WithBrowser(func(u string) error {
		opened <- u
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := mgr.Authenticate(ctx, []string{ScopeCalendar})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, strings.HasPrefix(<-opened, server.URL+oauthtest.AuthPath))
}

func TestAuthenticate_BrowserFailureStillWaits(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	// The opener fails, but the user follows the logged URL by hand.
	mgr := newTestManager(t, server, WithBrowser(func(u string) error {
		go server.Browser(u)
		return errors.New("no display")
	}))

	tok, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
}

func TestAuthenticate_InvalidInput(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	t.Run("no scopes", func(t *testing.T) {
		mgr := newTestManager(t, server)
		_, err := mgr.Authenticate(testContext(t), nil)
		assert.Error(t, err)
	})

	t.Run("https redirect", func(t *testing.T) {
		mgr := newTestManager(t, server, WithRedirectURI("https://127.0.0.1:0"))
		_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
		assert.Error(t, err)
	})

	assert.Empty(t, server.Requests())
}

func TestManager_Client(t *testing.T) {
	server := oauthtest.NewServer()
	defer server.Close()

	mgr := newTestManager(t, server)
	ctx := testContext(t)

	tok, err := mgr.Authenticate(ctx, []string{ScopeCalendar})
	require.NoError(t, err)

	client, err := mgr.Client(ctx, tok)
	require.NoError(t, err)

	resp, err := client.Get(server.URL + "/calendars/primary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// captureLogs routes the default slog logger into a buffer for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestAuthenticate_ConsentURLLogging(t *testing.T) {
	t.Run("custom opener shows the URL itself", func(t *testing.T) {
		server := oauthtest.NewServer()
		defer server.Close()
		logs := captureLogs(t)

		mgr := newTestManager(t, server)
		_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
		require.NoError(t, err)

		assert.Contains(t, logs.String(), "waiting for authorization")
		assert.NotContains(t, logs.String(), "code_challenge")
	})

	t.Run("custom opener failure logs the URL", func(t *testing.T) {
		server := oauthtest.NewServer()
		defer server.Close()
		logs := captureLogs(t)

		mgr := newTestManager(t, server, WithBrowser(func(u string) error {
			go server.Browser(u)
			return errors.New("no display")
		}))
		_, err := mgr.Authenticate(testContext(t), []string{ScopeCalendar})
		require.NoError(t, err)

		assert.Contains(t, logs.String(), "failed to open consent URL")
		assert.Equal(t, 1, strings.Count(logs.String(), "code_challenge"))
	})
}
