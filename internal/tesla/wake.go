package tesla

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultWakePollInterval = 1000 * time.Millisecond

// Waker is the slice of the client the wake coordinator needs.
type Waker interface {
	WakeUp(ctx context.Context, id string) (*Vehicle, error)
}

// WakeCoordinator drives a vehicle from any state to online by repeatedly
// issuing wake commands. It is used for explicit user-triggered wake
// requests only; the autonomous decision cycle never wakes a vehicle.
type WakeCoordinator struct {
	api      Waker
	interval time.Duration
	logger   *logrus.Logger
}

// NewWakeCoordinator creates a coordinator polling at the default interval.
func NewWakeCoordinator(api Waker, logger *logrus.Logger) *WakeCoordinator {
	return &WakeCoordinator{api: api, interval: defaultWakePollInterval, logger: logger}
}

// WaitForOnline wakes the vehicle and polls until it reports online. The
// loop is unbounded in attempts and bounded only by ctx. Any error from the
// underlying call aborts immediately; only "not yet online" is retried.
func (w *WakeCoordinator) WaitForOnline(ctx context.Context, id string) (*Vehicle, error) {
	for {
		vehicle, err := w.api.WakeUp(ctx, id)
		if err != nil {
			return nil, err
		}
		if vehicle.State == StateOnline {
			return vehicle, nil
		}

		w.logger.WithFields(logrus.Fields{
			"vehicle_id": id,
			"state":      vehicle.State,
		}).Debug("Vehicle not online yet, retrying wake")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.interval):
		}
	}
}
