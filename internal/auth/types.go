package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/api/calendar/v3"
)

// Scopes understood by the login flow. Only ScopeCalendar is requested by the CLI.
const (
	ScopeCalendar         = calendar.CalendarScope
	ScopeCalendarReadonly = calendar.CalendarReadonlyScope
	ScopeCalendarEvents   = calendar.CalendarEventsScope
)

var (
	// ErrUnsupportedCredentials is returned for secrets that cannot drive an interactive flow.
	ErrUnsupportedCredentials = errors.New("unsupported credential type")
	// ErrAuthorizationDenied is returned when the provider redirects back with an error.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrStateMismatch is returned when the callback state does not match the request.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrNoCode is returned when the callback carries neither a code nor an error.
	ErrNoCode = errors.New("no authorization code received")
)

// CredentialType represents the type of authentication credentials
type CredentialType int

const (
	CredentialTypeUnknown CredentialType = iota
	CredentialTypeInstalled
	CredentialTypeWeb
	CredentialTypeServiceAccount
)

// DetectCredentialType examines the JSON structure to determine credential type
func DetectCredentialType(data []byte) (CredentialType, error) {
	var check map[string]json.RawMessage
	if err := json.Unmarshal(data, &check); err != nil {
		return CredentialTypeUnknown, fmt.Errorf("failed to parse credential file: %w", err)
	}

	if raw, ok := check["type"]; ok {
		var typ string
		if err := json.Unmarshal(raw, &typ); err == nil && typ == "service_account" {
			return CredentialTypeServiceAccount, nil
		}
	}

	if _, ok := check["installed"]; ok {
		return CredentialTypeInstalled, nil
	}
	if _, ok := check["web"]; ok {
		return CredentialTypeWeb, nil
	}

	return CredentialTypeUnknown, fmt.Errorf("%w: no installed or web client found", ErrUnsupportedCredentials)
}

func (t CredentialType) String() string {
	switch t {
	case CredentialTypeInstalled:
		return "installed"
	case CredentialTypeWeb:
		return "web"
	case CredentialTypeServiceAccount:
		return "service_account"
	default:
		return "unknown"
	}
}
