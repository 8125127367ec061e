package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/drewfead/gcalauth/internal/config"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	tokenFilePermMode = 0600
	authorizedUser    = "authorized_user"
)

// UserToken is the credential persisted after a successful login. The layout is a
// superset of Google's authorized_user document, so the file can also be passed to
// google.CredentialsFromJSON.
type UserToken struct {
	Type         string    `json:"type"`
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	IDToken      string    `json:"id_token,omitempty"`
	Scopes       []string  `json:"scopes"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
}

// newUserToken converts the token returned by the exchange. Granted scopes come from
// the response's scope field when the provider sends one.
func newUserToken(tok *oauth2.Token, cfg *oauth2.Config, requested []string) *UserToken {
	scopes := requested
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	idToken, _ := tok.Extra("id_token").(string)

	return &UserToken{
		Type:         authorizedUser,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		IDToken:      idToken,
		Scopes:       scopes,
		TokenURI:     cfg.Endpoint.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
}

// OAuth2Token returns the token in the form golang.org/x/oauth2 consumes.
func (t *UserToken) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// LoadToken loads a user token from the specified file path
func LoadToken(tokenPath string) (*UserToken, error) {
	b, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open token file: %w", err)
	}

	tok := &UserToken{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("unable to decode token: %w", err)
	}

	return tok, nil
}

// SaveToken writes the token to tokenPath, replacing whatever was there.
func SaveToken(tokenPath string, token *UserToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode token: %w", err)
	}

	if err := config.EnsureParentDir(tokenPath); err != nil {
		return err
	}

	f, err := os.OpenFile(tokenPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, tokenFilePermMode)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	return writeAndClose(f, append(data, '\n'))
}

// writeAndClose writes data and closes f, returning the first error from either.
func writeAndClose(f io.WriteCloser, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write token: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close token file: %w", err)
	}
	return nil
}
