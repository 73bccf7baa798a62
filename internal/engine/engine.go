// Package engine implements the charge decision procedure: a strictly
// linear, short-circuiting chain of checks that decides each cycle whether
// active charge management applies to the vehicle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/evhome/chargepilot/internal/geo"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/settings"
	"github.com/evhome/chargepilot/internal/tesla"
)

// VehicleAPI is the slice of the vehicle client the engine consumes.
type VehicleAPI interface {
	GetVehicles(ctx context.Context) ([]tesla.Vehicle, error)
	GetVehicleData(ctx context.Context, id string) (*tesla.VehicleData, error)
}

// SettingsSource reads per-vehicle settings. The engine never writes.
type SettingsSource interface {
	GetByID(id string) *settings.Settings
}

// GridSource supplies the current grid carbon-intensity snapshot.
type GridSource interface {
	GetCurrent(ctx context.Context, lat, lon float64) (*griddata.Snapshot, error)
}

// Decision is the terminal result of one cycle.
type Decision string

const (
	// DecisionNone means a check short-circuited: nothing to manage.
	DecisionNone Decision = "none"
	// DecisionContinueCharge means the grid is clean enough to keep
	// charging. Advisory: no vehicle command is issued.
	DecisionContinueCharge Decision = "continue"
	// DecisionStopCharge means the grid is below the configured threshold.
	// Advisory as well: the cycle deliberately issues no stop command.
	DecisionStopCharge Decision = "stop"
)

// Outcome describes how a cycle terminated.
type Outcome struct {
	Decision   Decision
	Reason     string
	VehicleID  string
	FossilFree int
}

// Engine runs one decision cycle at a time against its collaborators.
type Engine struct {
	api      VehicleAPI
	settings SettingsSource
	grid     GridSource
	logger   *logrus.Logger
}

// New creates a decision engine.
func New(api VehicleAPI, settingsSource SettingsSource, grid GridSource, logger *logrus.Logger) *Engine {
	return &Engine{api: api, settings: settingsSource, grid: grid, logger: logger}
}

// RunCycle evaluates the decision chain once. Each predicate gates the next;
// the first unmet condition terminates the cycle with a no-op outcome. Any
// fetch failure aborts the whole cycle with an error and no partial effect.
// The engine never wakes a sleeping vehicle and never issues a charge
// command; the terminal decision is advisory.
func (e *Engine) RunCycle(ctx context.Context) (*Outcome, error) {
	vehicles, err := e.api.GetVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching vehicle list: %w", err)
	}
	if len(vehicles) == 0 {
		return e.skip("", "no vehicle data"), nil
	}

	vehicle := vehicles[0]
	id := strconv.FormatInt(vehicle.ID, 10)
	if vehicle.State != tesla.StateOnline {
		return e.skip(id, "vehicle not online"), nil
	}

	cfg := e.settings.GetByID(id)
	if cfg == nil {
		return e.skip(id, "no settings for vehicle"), nil
	}
	if !cfg.ChargeManagement {
		return e.skip(id, "charge management disabled"), nil
	}

	data, err := e.api.GetVehicleData(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching vehicle details: %w", err)
	}
	if data.ChargeState.ChargingState != tesla.ChargingStateCharging {
		return e.skip(id, "vehicle not charging"), nil
	}
	if data.ChargeState.BatteryLevel < cfg.BatteryReserve {
		return e.skip(id, "below battery reserve, keep charging"), nil
	}

	if !geo.IsWithinOneMile(cfg.LastSeen.Latitude, cfg.LastSeen.Longitude, cfg.HomeLatitude, cfg.HomeLongitude) {
		return e.skip(id, "vehicle not at home"), nil
	}

	snapshot, err := e.grid.GetCurrent(ctx, cfg.HomeLatitude, cfg.HomeLongitude)
	if err != nil {
		// Free-tier throttling recurs constantly; skip this cycle instead
		// of treating it as a failure.
		if errors.Is(err, griddata.ErrRateLimited) {
			return e.skip(id, "grid data rate limited"), nil
		}
		return nil, fmt.Errorf("fetching grid data: %w", err)
	}

	outcome := &Outcome{VehicleID: id, FossilFree: snapshot.FossilFreePercentage}
	if snapshot.FossilFreePercentage > cfg.GridThreshold {
		outcome.Decision = DecisionContinueCharge
		outcome.Reason = "grid clean enough, continue allowing charge"
	} else {
		outcome.Decision = DecisionStopCharge
		outcome.Reason = "grid below threshold"
	}

	e.logger.WithFields(logrus.Fields{
		"vehicle_id":  id,
		"fossil_free": snapshot.FossilFreePercentage,
		"threshold":   cfg.GridThreshold,
		"decision":    outcome.Decision,
	}).Info("Decision cycle completed")

	return outcome, nil
}

func (e *Engine) skip(vehicleID, reason string) *Outcome {
	fields := logrus.Fields{"reason": reason}
	if vehicleID != "" {
		fields["vehicle_id"] = vehicleID
	}
	e.logger.WithFields(fields).Info("Decision cycle skipped")
	return &Outcome{Decision: DecisionNone, Reason: reason, VehicleID: vehicleID}
}
