package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evhome/chargepilot/internal/engine"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/tesla"
)

func TestSnapshotStartsEmpty(t *testing.T) {
	f := New()
	snap := f.Snapshot()

	assert.Nil(t, snap.Vehicles)
	assert.Nil(t, snap.GridCurrent)
	assert.True(t, snap.UpdatedAt.IsZero())
}

func TestSetUpdatesSnapshot(t *testing.T) {
	f := New()

	f.SetVehicles([]tesla.Vehicle{{ID: 42, State: tesla.StateOnline}})
	f.SetGridCurrent(&griddata.Snapshot{FossilFreePercentage: 85})
	f.SetOutcome(&engine.Outcome{Decision: engine.DecisionContinueCharge})

	snap := f.Snapshot()
	require.Len(t, snap.Vehicles, 1)
	assert.Equal(t, int64(42), snap.Vehicles[0].ID)
	assert.Equal(t, 85, snap.GridCurrent.FossilFreePercentage)
	assert.Equal(t, engine.DecisionContinueCharge, snap.LastOutcome.Decision)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	f := New()
	sub := f.Subscribe()

	f.SetVehicles([]tesla.Vehicle{{ID: 42}})

	select {
	case snap := <-sub:
		require.Len(t, snap.Vehicles, 1)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered to subscriber")
	}
}

func TestSlowSubscriberDoesNotBlockProducer(t *testing.T) {
	f := New()
	_ = f.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.SetVehicles([]tesla.Vehicle{{ID: int64(i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on a busy subscriber")
	}
}

func TestTrackerFirstCallAlwaysChanged(t *testing.T) {
	tracker := NewTracker()
	assert.True(t, tracker.Changed(Snapshot{}))
}

func TestTrackerIgnoresTimestamp(t *testing.T) {
	tracker := NewTracker()

	first := Snapshot{GridCurrent: &griddata.Snapshot{FossilFreePercentage: 85}, UpdatedAt: time.Now()}
	require.True(t, tracker.Changed(first))

	same := first
	same.UpdatedAt = time.Now().Add(time.Minute)
	assert.False(t, tracker.Changed(same), "wall-clock movement alone is not a change")
}

func TestTrackerDetectsContentChange(t *testing.T) {
	tracker := NewTracker()
	require.True(t, tracker.Changed(Snapshot{GridCurrent: &griddata.Snapshot{FossilFreePercentage: 85}}))

	assert.True(t, tracker.Changed(Snapshot{GridCurrent: &griddata.Snapshot{FossilFreePercentage: 60}}))
}
