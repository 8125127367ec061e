package oauthtest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/api/calendar/v3"
)

const (
	// AuthPath is the consent endpoint advertised as auth_uri.
	AuthPath = "/o/oauth2/auth"
	// TokenPath is the token endpoint advertised as token_uri.
	TokenPath = "/token"

	DefaultClientID     = "test-client.apps.googleusercontent.com"
	DefaultClientSecret = "GOCSPX-test-secret"

	tokenLifetimeSeconds = 3600
)

// AuthRequest is one hit on the consent endpoint.
type AuthRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	Scopes              []string
	AccessType          string
	CodeChallenge       string
	CodeChallengeMethod string
}

type grant struct {
	redirectURI string
	challenge   string
	scopes      []string
}

// Server is a mock Google OAuth provider with a minimal Calendar API.
type Server struct {
	*httptest.Server
	ClientID     string
	ClientSecret string

	mu        sync.RWMutex
	nextID    int
	denyWith  string
	requests  []AuthRequest
	codes     map[string]*grant // authorization code -> grant
	access    map[string]*grant // access token -> grant
	refresh   map[string]*grant // refresh token -> grant
	calendars map[string]*calendar.Calendar
}

// NewServer starts a mock provider with the default client registered.
func NewServer() *Server {
	s := &Server{
		ClientID:     DefaultClientID,
		ClientSecret: DefaultClientSecret,
	}
	s.reset()

	mux := http.NewServeMux()
	mux.HandleFunc(AuthPath, s.handleAuth)
	mux.HandleFunc(TokenPath, s.handleToken)
	mux.HandleFunc("/", s.handleCalendars)

	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) reset() {
	s.nextID = 1
	s.denyWith = ""
	s.requests = nil
	s.codes = make(map[string]*grant)
	s.access = make(map[string]*grant)
	s.refresh = make(map[string]*grant)
	s.calendars = map[string]*calendar.Calendar{
		"primary": {
			Kind:     "calendar#calendar",
			Id:       "user@example.com",
			Summary:  "user@example.com",
			TimeZone: "UTC",
		},
	}
}

// handleAuth handles GET /o/oauth2/auth. A real provider shows a consent page; the
// mock consents (or refuses, see Deny) immediately.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		Scopes:              strings.Fields(q.Get("scope")),
		AccessType:          q.Get("access_type"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if req.ClientID != s.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil || req.RedirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	params := redirect.Query()
	params.Set("state", req.State)
	if s.denyWith != "" {
		params.Set("error", s.denyWith)
	} else {
		code := fmt.Sprintf("code%d", s.nextID)
		s.nextID++
		s.codes[code] = &grant{
			redirectURI: req.RedirectURI,
			challenge:   req.CodeChallenge,
			scopes:      req.Scopes,
		}
		params.Set("code", code)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// handleToken handles POST /token for authorization_code and refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", err.Error())
		return
	}

	id, secret := r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	if u, p, ok := r.BasicAuth(); ok {
		id, _ = url.QueryUnescape(u)
		secret, _ = url.QueryUnescape(p)
	}
	if id != s.ClientID || secret != s.ClientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var g *grant
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		g = s.codes[code]
		if g == nil {
			tokenError(w, "invalid_grant", "unknown or used authorization code")
			return
		}
		delete(s.codes, code)

		if r.PostForm.Get("redirect_uri") != g.redirectURI {
			tokenError(w, "invalid_grant", "redirect_uri mismatch")
			return
		}
		if g.challenge != "" && !verifyS256(r.PostForm.Get("code_verifier"), g.challenge) {
			tokenError(w, "invalid_grant", "code_verifier does not match code_challenge")
			return
		}
	case "refresh_token":
		g = s.refresh[r.PostForm.Get("refresh_token")]
		if g == nil {
			tokenError(w, "invalid_grant", "unknown refresh token")
			return
		}
	default:
		tokenError(w, "unsupported_grant_type", r.PostForm.Get("grant_type"))
		return
	}

	n := s.nextID
	s.nextID++
	accessToken := fmt.Sprintf("access%d", n)
	refreshToken := fmt.Sprintf("refresh%d", n)
	s.access[accessToken] = g
	s.refresh[refreshToken] = g

	writeJSON(w, map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    tokenLifetimeSeconds,
		"refresh_token": refreshToken,
		"scope":         strings.Join(g.scopes, " "),
	})
}

// handleCalendars handles GET /calendars/{calendarId}, the only Calendar API call
// the mock serves.
func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/calendars/")
	if idx == -1 {
		http.Error(w, "unsupported endpoint", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if s.access[bearer] == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	calendarID, _ := url.PathUnescape(strings.Trim(r.URL.Path[idx+len("/calendars/"):], "/"))
	cal := s.calendars[calendarID]
	if cal == nil {
		http.Error(w, "calendar not found", http.StatusNotFound)
		return
	}

	writeJSON(w, cal)
}

func verifyS256(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func tokenError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Browser follows authURL the way a user's browser would: it visits the consent page and
// the redirect back to the local callback. Pass it to auth.WithBrowser.
func (s *Server) Browser(authURL string) error {
	resp, err := s.Client().Get(authURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}

// ClientSecretsJSON returns an installed-app client-secrets document whose endpoints
// point at the mock.
func (s *Server) ClientSecretsJSON() []byte {
	b, _ := json.Marshal(map[string]any{
		"installed": map[string]any{
			"client_id":                   s.ClientID,
			"project_id":                  "gcalauth-test",
			"auth_uri":                    s.URL + AuthPath,
			"token_uri":                   s.URL + TokenPath,
			"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
			"client_secret":               s.ClientSecret,
			"redirect_uris":               []string{"http://localhost"},
		},
	})
	return b
}

// Deny makes subsequent consent requests redirect back with error=errCode.
// An empty errCode restores consent.
func (s *Server) Deny(errCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyWith = errCode
}

// Requests returns the consent requests received so far (for test assertions).
func (s *Server) Requests() []AuthRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuthRequest(nil), s.requests...)
}

// AddCalendar registers calendar metadata served under calendarID.
func (s *Server) AddCalendar(calendarID string, cal *calendar.Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[calendarID] = cal
}

// Reset clears all grants and recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}
