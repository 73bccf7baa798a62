package config

import "time"

// Central place for all application-wide timing constants. Changing a value
// here immediately affects every component that imports
// github.com/evhome/chargepilot/internal/config.

const (
	// Scheduling intervals
	DecisionInterval    = 15 * time.Minute // Charge decision cycle cadence
	FeedRefreshInterval = 15 * time.Minute // Vehicle list / details / grid feed refresh

	// Operation time-outs (to avoid blocking goroutines)
	VehicleAPITimeout = 10 * time.Second // Owner API call
	AuthTimeout       = 30 * time.Second // OAuth token exchange
	GridAPITimeout    = 10 * time.Second // Electricity Maps call
	MQTTTimeout       = 5 * time.Second  // MQTT publish
)
