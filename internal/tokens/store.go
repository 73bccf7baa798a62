// Package tokens persists the API token pairs (vehicle owner API and grid
// data API) in a single JSON file keyed by token type.
package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evhome/chargepilot/internal/tesla"
)

// Token types within the store file.
const (
	TypeTesla = "tesla_token"
	TypeGrid  = "em_token"
)

// Entry is one stored token record.
type Entry struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Token        string    `json:"token,omitempty"`
	DateCreated  time.Time `json:"dateCreated"`
	DateUpdated  time.Time `json:"dateUpdated"`
}

// Store is the JSON-file-backed token store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	data   map[string]Entry
	logger *logrus.Logger
}

// NewStore loads the token file at path, starting empty when the file is
// missing or unparseable.
func NewStore(path string, logger *logrus.Logger) *Store {
	s := &Store{path: path, data: map[string]Entry{}, logger: logger}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Info("No token file, starting empty")
		return s
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Unparseable token file, starting empty")
		s.data = map[string]Entry{}
	}
	return s
}

// Get returns the stored entry for a token type, or nil when absent.
func (s *Store) Get(tokenType string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[tokenType]
	if !ok {
		return nil
	}
	return &entry
}

// TeslaCredentials returns the stored vehicle API token pair, empty when the
// store has none yet.
func (s *Store) TeslaCredentials() tesla.Credentials {
	entry := s.Get(TypeTesla)
	if entry == nil {
		return tesla.Credentials{}
	}
	return tesla.Credentials{AccessToken: entry.AccessToken, RefreshToken: entry.RefreshToken}
}

// GridToken returns the stored grid data API token, empty when absent.
func (s *Store) GridToken() string {
	entry := s.Get(TypeGrid)
	if entry == nil {
		return ""
	}
	return entry.Token
}

// SaveTeslaCredentials stores a vehicle API token pair. Registered as the
// client's refresh callback so every refreshed pair lands on disk.
func (s *Store) SaveTeslaCredentials(creds tesla.Credentials) error {
	return s.put(TypeTesla, Entry{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken})
}

// SaveGridToken stores the grid data API token.
func (s *Store) SaveGridToken(token string) error {
	return s.put(TypeGrid, Entry{Token: token})
}

func (s *Store) put(tokenType string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	entry.DateUpdated = now
	if prev, ok := s.data[tokenType]; ok && !prev.DateCreated.IsZero() {
		entry.DateCreated = prev.DateCreated
	} else {
		entry.DateCreated = now
	}
	s.data[tokenType] = entry

	raw, err := json.MarshalIndent(s.data, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding token store: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
