package auth

import (
	"encoding/json"
	"fmt"
	"os"
)

// ClientSecrets is a client-secrets document downloaded from the Google Cloud console.
// Only the fields the login flow reports on are decoded; the raw document is kept
// and handed to google.ConfigFromJSON untouched.
type ClientSecrets struct {
	Type         CredentialType
	ClientID     string
	ClientSecret string
	ProjectID    string
	AuthURI      string
	TokenURI     string
	RedirectURIs []string

	raw []byte
}

type clientSecretsBody struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	ProjectID    string   `json:"project_id"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	RedirectURIs []string `json:"redirect_uris"`
}

// LoadClientSecrets reads and parses the client-secrets file at path.
func LoadClientSecrets(path string) (*ClientSecrets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	return ParseClientSecrets(b)
}

// ParseClientSecrets parses a client-secrets document.
func ParseClientSecrets(data []byte) (*ClientSecrets, error) {
	credType, err := DetectCredentialType(data)
	if err != nil {
		return nil, err
	}
	if credType == CredentialTypeServiceAccount {
		return nil, fmt.Errorf("%w: expected OAuth client credentials, got %s", ErrUnsupportedCredentials, credType)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}
	var body clientSecretsBody
	if err := json.Unmarshal(doc[credType.String()], &body); err != nil {
		return nil, fmt.Errorf("unable to parse %s client: %w", credType, err)
	}

	return &ClientSecrets{
		Type:         credType,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		ProjectID:    body.ProjectID,
		AuthURI:      body.AuthURI,
		TokenURI:     body.TokenURI,
		RedirectURIs: body.RedirectURIs,
		raw:          data,
	}, nil
}

// Raw returns the document as read from disk.
func (s *ClientSecrets) Raw() []byte {
	return s.raw
}
