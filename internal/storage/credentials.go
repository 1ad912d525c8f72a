package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoCredentials indicates no persisted session exists.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the locally persisted login session.
type Credentials struct {
	// Token is the bearer token attached to REST calls.
	Token string `json:"token"`
	// RefreshToken renews Token after expiry.
	RefreshToken string `json:"refreshToken"`
	// UserID is the authenticated user's id.
	UserID string `json:"userId"`
	// DisplayName is the authenticated user's display name.
	DisplayName string `json:"displayName,omitempty"`
}

// SaveCredentials writes credentials to path with restrictive permissions.
func SaveCredentials(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadCredentials reads credentials from path.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Token == "" || creds.UserID == "" {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

// ClearCredentials removes the persisted session. Missing file is not an
// error, so logout is idempotent.
func ClearCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
