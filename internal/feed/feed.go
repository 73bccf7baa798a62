// Package feed keeps the most recent vehicle and grid data in memory and
// fans it out to subscribers. Refresh jobs write into the feed on their own
// cadence so consumers (HTTP API, MQTT publisher) always see recent data
// without coupling to the decision schedule.
package feed

import (
	"sync"
	"time"

	"github.com/evhome/chargepilot/internal/engine"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/tesla"
)

// Snapshot is the complete latest view held by the feed. Values are treated
// as immutable once stored.
type Snapshot struct {
	Vehicles    []tesla.Vehicle
	VehicleData *tesla.VehicleData
	GridCurrent *griddata.Snapshot
	GridHistory []griddata.Snapshot
	LastOutcome *engine.Outcome
	UpdatedAt   time.Time
}

// Feed stores the latest snapshot and notifies subscribers on every update.
// Safe for concurrent producers and consumers.
type Feed struct {
	mu          sync.RWMutex
	current     Snapshot
	subscribers []chan Snapshot
}

// New creates an empty feed.
func New() *Feed { return &Feed{} }

// Snapshot returns a copy of the latest view.
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Subscribe returns a channel receiving every future snapshot. Delivery is
// best-effort: a subscriber that has not drained its buffer misses that
// update and catches up on the next one.
func (f *Feed) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	return ch
}

// SetVehicles stores a fresh vehicle list.
func (f *Feed) SetVehicles(vehicles []tesla.Vehicle) {
	f.update(func(s *Snapshot) { s.Vehicles = vehicles })
}

// SetVehicleData stores fresh vehicle telemetry.
func (f *Feed) SetVehicleData(data *tesla.VehicleData) {
	f.update(func(s *Snapshot) { s.VehicleData = data })
}

// SetGridCurrent stores the latest grid snapshot.
func (f *Feed) SetGridCurrent(snapshot *griddata.Snapshot) {
	f.update(func(s *Snapshot) { s.GridCurrent = snapshot })
}

// SetGridHistory stores the latest grid history.
func (f *Feed) SetGridHistory(history []griddata.Snapshot) {
	f.update(func(s *Snapshot) { s.GridHistory = history })
}

// SetOutcome stores the most recent decision outcome.
func (f *Feed) SetOutcome(outcome *engine.Outcome) {
	f.update(func(s *Snapshot) { s.LastOutcome = outcome })
}

func (f *Feed) update(apply func(*Snapshot)) {
	f.mu.Lock()
	apply(&f.current)
	f.current.UpdatedAt = time.Now()
	snapshot := f.current
	subs := make([]chan Snapshot, len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Subscriber busy; it will pick up the next update.
		}
	}
}
