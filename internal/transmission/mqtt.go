// Package transmission pushes the latest feed snapshot and decision
// outcomes to an MQTT broker so external dashboards always see recent data.
package transmission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evhome/chargepilot/internal/engine"
	"github.com/evhome/chargepilot/internal/feed"
)

// Broker is the slice of the MQTT client the publisher needs.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	PublishAvailability(online bool) error
	StateTopic() string
	DecisionTopic() string
}

// statePayload is the JSON document published on the state topic.
type statePayload struct {
	VehicleName     string  `json:"vehicle_name,omitempty"`
	VehicleState    string  `json:"vehicle_state,omitempty"`
	ChargingState   string  `json:"charging_state,omitempty"`
	BatteryLevel    *int    `json:"battery_level,omitempty"`
	BatteryRange    float64 `json:"battery_range,omitempty"`
	ChargeLimitSoc  int     `json:"charge_limit_soc,omitempty"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	GridZone        string  `json:"grid_zone,omitempty"`
	FossilFree      *int    `json:"fossil_free_percentage,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

// decisionPayload is the JSON document published per decision outcome.
type decisionPayload struct {
	VehicleID  string `json:"vehicle_id,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	FossilFree int    `json:"fossil_free_percentage,omitempty"`
}

// Publisher mirrors feed updates onto MQTT topics, publishing only when the
// content actually changed.
type Publisher struct {
	broker  Broker
	tracker *feed.Tracker
	logger  *logrus.Logger

	lastOutcome *engine.Outcome
}

// NewPublisher creates an MQTT telemetry publisher.
func NewPublisher(broker Broker, logger *logrus.Logger) *Publisher {
	return &Publisher{broker: broker, tracker: feed.NewTracker(), logger: logger}
}

// Run subscribes to the feed and publishes until ctx is cancelled. It marks
// the installation available on entry and unavailable on exit.
func (p *Publisher) Run(ctx context.Context, f *feed.Feed) error {
	if err := p.broker.PublishAvailability(true); err != nil {
		p.logger.WithError(err).Warn("Failed to publish availability")
	}
	defer func() {
		if err := p.broker.PublishAvailability(false); err != nil {
			p.logger.WithError(err).Warn("Failed to publish offline status")
		}
	}()

	sub := f.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snapshot := <-sub:
			p.publish(snapshot)
		}
	}
}

func (p *Publisher) publish(snapshot feed.Snapshot) {
	if outcome := snapshot.LastOutcome; outcome != nil && outcome != p.lastOutcome {
		p.lastOutcome = outcome
		if err := p.publishDecision(outcome); err != nil {
			p.logger.WithError(err).Warn("Decision publish failed")
		}
	}

	if !p.tracker.Changed(snapshot) {
		return
	}
	if err := p.publishState(snapshot); err != nil {
		p.logger.WithError(err).Warn("State publish failed")
	}
}

func (p *Publisher) publishState(snapshot feed.Snapshot) error {
	payload, err := json.Marshal(buildStatePayload(snapshot))
	if err != nil {
		return fmt.Errorf("encoding state payload: %w", err)
	}
	return p.broker.Publish(p.broker.StateTopic(), payload, true)
}

func (p *Publisher) publishDecision(outcome *engine.Outcome) error {
	payload, err := json.Marshal(decisionPayload{
		VehicleID:  outcome.VehicleID,
		Decision:   string(outcome.Decision),
		Reason:     outcome.Reason,
		FossilFree: outcome.FossilFree,
	})
	if err != nil {
		return fmt.Errorf("encoding decision payload: %w", err)
	}
	return p.broker.Publish(p.broker.DecisionTopic(), payload, false)
}

func buildStatePayload(snapshot feed.Snapshot) statePayload {
	payload := statePayload{
		UpdatedAt: snapshot.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if len(snapshot.Vehicles) > 0 {
		payload.VehicleName = snapshot.Vehicles[0].DisplayName
		payload.VehicleState = snapshot.Vehicles[0].State
	}
	if data := snapshot.VehicleData; data != nil {
		payload.ChargingState = data.ChargeState.ChargingState
		level := data.ChargeState.BatteryLevel
		payload.BatteryLevel = &level
		payload.BatteryRange = data.ChargeState.BatteryRange
		payload.ChargeLimitSoc = data.ChargeState.ChargeLimitSoc
		payload.Latitude = data.DriveState.Latitude
		payload.Longitude = data.DriveState.Longitude
	}
	if grid := snapshot.GridCurrent; grid != nil {
		payload.GridZone = grid.Zone
		ff := grid.FossilFreePercentage
		payload.FossilFree = &ff
	}
	return payload
}
