// ABOUTME: Saved login session and device identity under the XDG data directory
// ABOUTME: Persists the access token with restricted permissions and generates a ULID device id
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	credentialsFile = "session.json"
	deviceFile      = "device_id"
)

// ErrNotLoggedIn is returned when no usable session is saved.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials is the saved login.
type Credentials struct {
	BackendURL  string    `json:"backend_url"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
}

// Valid reports whether the credentials can still be used at now.
func (c *Credentials) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && c.UserID != "" &&
		(c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt))
}

// LoadCredentials reads the saved session from dir.
func LoadCredentials(dir string) (*Credentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if !creds.Valid(time.Now()) {
		return nil, ErrNotLoggedIn
	}
	return &creds, nil
}

// SaveCredentials writes the session to dir with owner-only permissions.
func SaveCredentials(dir string, creds *Credentials) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, credentialsFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(creds); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return nil
}

// ClearCredentials removes the saved session. Missing is fine.
func ClearCredentials(dir string) error {
	err := os.Remove(filepath.Join(dir, credentialsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// DeviceID returns this installation's id, creating it on first use.
func DeviceID(dir string) (string, error) {
	path := filepath.Join(dir, deviceFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	id := ulid.Make().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	return id, nil
}
