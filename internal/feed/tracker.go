package feed

import (
	"reflect"
	"sync"
	"time"
)

// Tracker answers "has anything changed since the last time I asked?",
// used to publish telemetry only when the content actually moved.
//
//   - The first call to Changed always returns true and stores the snapshot.
//   - The UpdatedAt wall-clock stamp is ignored when comparing.
//   - The stored snapshot is replaced only when a difference is detected.
type Tracker struct {
	mu   sync.Mutex
	prev *Snapshot
}

// NewTracker returns a ready-to-use change tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Changed compares the supplied snapshot against the previously stored one,
// ignoring UpdatedAt. If a change is detected it stores the snapshot and
// returns true.
func (t *Tracker) Changed(cur Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.prev == nil {
		t.prev = &cur
		return true
	}
	if !equalNoTimestamp(*t.prev, cur) {
		t.prev = &cur
		return true
	}
	return false
}

func equalNoTimestamp(a, b Snapshot) bool {
	a.UpdatedAt = time.Time{}
	b.UpdatedAt = time.Time{}
	return reflect.DeepEqual(a, b)
}
