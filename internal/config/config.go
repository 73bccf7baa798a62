package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration options for the chargepilot daemon.
type Config struct {
	// Vehicle API
	TeslaBaseURL string `json:"tesla_base_url"` // Owner API base URL
	TeslaAuthURL string `json:"tesla_auth_url"` // OAuth token exchange endpoint
	APITimeout   int    `json:"api_timeout"`    // Vehicle API request timeout in seconds

	// Grid data
	GridZone string `json:"grid_zone"` // Electricity Maps zone for history queries

	// Persistence
	SettingsFile string `json:"settings_file"` // Per-vehicle settings JSON file
	TokenFile    string `json:"token_file"`    // API token JSON file

	// HTTP API
	ListenAddr string `json:"listen_addr"` // Address for the local HTTP API

	// MQTT (optional)
	MQTTUrl  string `json:"mqtt_url"`  // Broker URL; empty disables publishing
	DeviceID string `json:"device_id"` // Topic segment identifying this installation

	// Scheduling
	DecisionInterval time.Duration `json:"decision_interval"` // Charge decision cadence
	RefreshInterval  time.Duration `json:"refresh_interval"`  // Feed refresh cadence

	// Application
	Verbose bool `json:"verbose"` // Enable verbose logging
}

// GetDefaultConfig returns a configuration with sensible defaults.
func GetDefaultConfig() *Config {
	return &Config{
		TeslaBaseURL:     "https://owner-api.teslamotors.com",
		TeslaAuthURL:     "https://auth.tesla.com/oauth2/v3/token",
		APITimeout:       10,
		GridZone:         "US-CAL-CISO",
		SettingsFile:     "config/settings.json",
		TokenFile:        "config/token.json",
		ListenAddr:       ":8080",
		DeviceID:         "chargepilot",
		DecisionInterval: DecisionInterval,
		RefreshInterval:  FeedRefreshInterval,
		Verbose:          false,
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if c.SettingsFile == "" || c.TokenFile == "" {
		return fmt.Errorf("settings and token file paths are required")
	}

	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	if c.APITimeout <= 0 {
		c.APITimeout = 10
	}
	if c.DecisionInterval <= 0 {
		c.DecisionInterval = DecisionInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = FeedRefreshInterval
	}
	return nil
}

// HasMQTT returns true if an MQTT broker is configured.
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}

// GetAPITimeout returns the vehicle API timeout as a duration.
func (c *Config) GetAPITimeout() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}
