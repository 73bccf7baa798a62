package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/evhome/chargepilot/internal/config"
	"github.com/evhome/chargepilot/internal/engine"
	"github.com/evhome/chargepilot/internal/feed"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/settings"
	"github.com/evhome/chargepilot/internal/tesla"
	"github.com/evhome/chargepilot/internal/transmission"
	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// VehicleAPI is the subset of the vehicle client the refresh jobs use.
type VehicleAPI interface {
	GetVehicles(ctx context.Context) ([]tesla.Vehicle, error)
	GetVehicleData(ctx context.Context, id string) (*tesla.VehicleData, error)
}

// GridAPI is the subset of the grid client the refresh jobs use.
type GridAPI interface {
	GetCurrent(ctx context.Context, lat, lon float64) (*griddata.Snapshot, error)
	GetHistory(ctx context.Context, zone string) ([]griddata.Snapshot, error)
}

// DecisionRunner evaluates one charge-management cycle.
type DecisionRunner interface {
	RunCycle(ctx context.Context) (*engine.Outcome, error)
}

// jobTimeout bounds a single scheduled job so a stuck upstream call
// cannot block the next run indefinitely.
const jobTimeout = 2 * time.Minute

// Service owns the periodic jobs: the charge decision cycle and the
// feed refreshers that keep the HTTP API and MQTT publisher supplied
// with recent data.
type Service struct {
	cfg      *config.Config
	decider  DecisionRunner
	api      VehicleAPI
	grid     GridAPI
	settings *settings.Store
	feed     *feed.Feed
	logger   *logrus.Logger
}

func New(
	cfg *config.Config,
	decider DecisionRunner,
	api VehicleAPI,
	grid GridAPI,
	settingsStore *settings.Store,
	f *feed.Feed,
	logger *logrus.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		decider:  decider,
		api:      api,
		grid:     grid,
		settings: settingsStore,
		feed:     f,
		logger:   logger,
	}
}

// Run starts the scheduler and the optional MQTT publisher and blocks
// until ctx is cancelled.
func (s *Service) Run(parentCtx context.Context, publisher *transmission.Publisher) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)

	scheduler := gocron.NewScheduler(time.UTC)

	// The decision job must never overlap itself: a slow wake or API
	// call on one tick simply delays the next evaluation.
	if _, err := scheduler.Every(s.cfg.DecisionInterval).StartImmediately().SingletonMode().Do(func() {
		s.runDecision(ctx)
	}); err != nil {
		s.logger.WithError(err).Error("app: failed to schedule decision job")
		return
	}

	// Feed refreshers are independent of the decision cycle and of
	// each other. A failure in one leaves the others running.
	refreshJobs := []struct {
		name string
		fn   func(context.Context)
	}{
		{"vehicle list", s.refreshVehicles},
		{"vehicle data", s.refreshVehicleData},
		{"grid current", s.refreshGridCurrent},
		{"grid history", s.refreshGridHistory},
	}
	for _, job := range refreshJobs {
		fn := job.fn
		if _, err := scheduler.Every(s.cfg.RefreshInterval).StartImmediately().Do(func() {
			fn(ctx)
		}); err != nil {
			s.logger.WithError(err).WithField("job", job.name).Error("app: failed to schedule refresh job")
			return
		}
	}

	scheduler.StartAsync()

	if publisher != nil {
		grp.Go(func() error {
			return publisher.Run(ctx, s.feed)
		})
	}

	grp.Go(func() error {
		<-ctx.Done()
		scheduler.Stop()
		return ctx.Err()
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Warn("app: background group exited")
	}
}

// runDecision executes one charge-management cycle and records the
// outcome on the feed for the HTTP API and MQTT publisher.
func (s *Service) runDecision(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	outcome, err := s.decider.RunCycle(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("decision cycle failed")
		return
	}
	s.feed.SetOutcome(outcome)
	s.logger.WithFields(logrus.Fields{
		"decision": outcome.Decision,
		"reason":   outcome.Reason,
	}).Info("decision cycle complete")
}

func (s *Service) refreshVehicles(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	vehicles, err := s.api.GetVehicles(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("vehicle list refresh failed")
		return
	}
	s.feed.SetVehicles(vehicles)
}

// refreshVehicleData fetches full state for the first online vehicle.
// Sleeping vehicles are left alone so refreshes never keep them awake.
func (s *Service) refreshVehicleData(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	snapshot := s.feed.Snapshot()
	for _, vehicle := range snapshot.Vehicles {
		if vehicle.State != tesla.StateOnline {
			continue
		}
		data, err := s.api.GetVehicleData(ctx, strconv.FormatInt(vehicle.ID, 10))
		if err != nil {
			s.logger.WithError(err).WithField("vehicle", vehicle.DisplayName).Warn("vehicle data refresh failed")
			return
		}
		s.feed.SetVehicleData(data)
		return
	}
	s.logger.Debug("vehicle data refresh skipped, no vehicle online")
}

// refreshGridCurrent queries carbon intensity at the configured home
// location of the first vehicle with settings on file.
func (s *Service) refreshGridCurrent(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	entries := s.settings.GetAll()
	if len(entries) == 0 {
		s.logger.Debug("grid refresh skipped, no vehicle settings")
		return
	}
	home := entries[0]

	snapshot, err := s.grid.GetCurrent(ctx, home.HomeLatitude, home.HomeLongitude)
	if err != nil {
		if errors.Is(err, griddata.ErrRateLimited) {
			s.logger.Debug("grid refresh skipped, rate limited")
			return
		}
		s.logger.WithError(err).Warn("grid refresh failed")
		return
	}
	s.feed.SetGridCurrent(snapshot)
}

func (s *Service) refreshGridHistory(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	history, err := s.grid.GetHistory(ctx, s.cfg.GridZone)
	if err != nil {
		if errors.Is(err, griddata.ErrRateLimited) {
			s.logger.Debug("grid history refresh skipped, rate limited")
			return
		}
		s.logger.WithError(err).Warn("grid history refresh failed")
		return
	}
	s.feed.SetGridHistory(history)
}
