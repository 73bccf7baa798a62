// Package settings holds the per-vehicle charge management preferences and
// their JSON file store.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LastSeen is the vehicle position and charge snapshot recorded the last
// time the dashboard saw fresh telemetry.
type LastSeen struct {
	BatteryLevel   int       `json:"battery_level"`
	EstimatedRange float64   `json:"estimated_range"`
	ChargeLimitSoc int       `json:"charge_limit_soc"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
}

// Settings is the charge management configuration for one vehicle, keyed by
// vehicle id.
type Settings struct {
	ID               string    `json:"id"`
	ChargeManagement bool      `json:"charge_management"`
	HomeLatitude     float64   `json:"home_latitude"`
	HomeLongitude    float64   `json:"home_longitude"`
	BatteryReserve   int       `json:"battery_reserve"`
	GridThreshold    int       `json:"grid_threshold"`
	LastSeen         LastSeen  `json:"last_seen"`
	DateCreated      time.Time `json:"dateCreated,omitempty"`
	DateUpdated      time.Time `json:"dateUpdated,omitempty"`
}

// Store keeps all settings entries in a single JSON file. Safe for
// concurrent use; every mutation is written through to disk.
type Store struct {
	mu     sync.Mutex
	path   string
	items  []Settings
	logger *logrus.Logger
}

// NewStore loads the settings file at path, starting with an empty list when
// the file is missing or unparseable.
func NewStore(path string, logger *logrus.Logger) *Store {
	s := &Store{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Info("No settings file, starting empty")
		return s
	}
	if err := json.Unmarshal(raw, &s.items); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Unparseable settings file, starting empty")
		s.items = nil
	}
	return s
}

// GetAll returns a copy of every settings entry.
func (s *Store) GetAll() []Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Settings, len(s.items))
	copy(out, s.items)
	return out
}

// GetByID returns the settings for one vehicle id, or nil when absent.
func (s *Store) GetByID(id string) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			entry := s.items[i]
			return &entry
		}
	}
	return nil
}

// Create upserts a settings entry by id, stamping the created/updated
// timestamps, and persists the store. Re-applying identical values is
// harmless.
func (s *Store) Create(entry Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	entry.DateUpdated = now

	replaced := false
	for i := range s.items {
		if s.items[i].ID == entry.ID {
			if !s.items[i].DateCreated.IsZero() {
				entry.DateCreated = s.items[i].DateCreated
			} else {
				entry.DateCreated = now
			}
			s.items[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entry.DateCreated = now
		s.items = append(s.items, entry)
	}
	return s.saveLocked()
}

// Update touches the entry with the given id, stamping DateUpdated and
// persisting. It returns an error when no such entry exists.
func (s *Store) Update(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].DateUpdated = time.Now().UTC()
			return s.saveLocked()
		}
	}
	return fmt.Errorf("settings entry not found: %s", id)
}

// Delete removes the entry with the given id, if present.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, entry := range s.items {
		if entry.ID != id {
			kept = append(kept, entry)
		}
	}
	s.items = kept
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.items, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
