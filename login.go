package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drewfead/gcalauth/internal/auth"
	"github.com/drewfead/gcalauth/internal/calendar"
	"github.com/drewfead/gcalauth/internal/config"
)

// loginScopes is the scope list sent to the provider. Scopes present in the secrets
// file are never added.
var loginScopes = []string{auth.ScopeCalendar}

// login loads the client secrets, runs the consent flow and writes the token file.
// A failure at any step returns before the token file is touched.
func login(ctx context.Context, cfg *config.Config, opts ...auth.Option) (*auth.UserToken, error) {
	secrets, err := auth.LoadClientSecrets(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("load client secrets: %w", err)
	}
	slog.Debug("loaded client secrets", "path", cfg.CredentialsPath, "type", secrets.Type, "client_id", secrets.ClientID)

	opts = append([]auth.Option{auth.WithRedirectURI(cfg.RedirectURI)}, opts...)
	mgr, err := auth.NewManager(secrets, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oauth manager: %w", err)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	tok, err := mgr.Authenticate(ctx, loginScopes)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if err := auth.SaveToken(cfg.TokenPath, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	slog.Info("saved user token", "path", cfg.TokenPath, "scopes", tok.Scopes, "expiry", tok.Expiry)

	return tok, nil
}

// verify checks the saved token against the Calendar API. It never rewrites the
// token file.
func verify(ctx context.Context, cfg *config.Config, opts ...auth.Option) error {
	secrets, err := auth.LoadClientSecrets(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("load client secrets: %w", err)
	}

	tok, err := auth.LoadToken(cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	mgr, err := auth.NewManager(secrets, opts...)
	if err != nil {
		return fmt.Errorf("create oauth manager: %w", err)
	}

	httpClient, err := mgr.Client(ctx, tok)
	if err != nil {
		return err
	}

	client, err := calendar.NewClient(ctx, httpClient, cfg.APIEndpoint)
	if err != nil {
		return err
	}

	cal, err := client.GetCalendar(ctx, calendar.PrimaryCalendarID)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}

	slog.Info("token verified", "calendar_id", cal.Id, "summary", cal.Summary, "time_zone", cal.TimeZone)
	return nil
}
