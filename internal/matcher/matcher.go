package matcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/task"
)

type DriverPool interface {
	AvailableDrivers() []*participant.Driver
}

type Request struct {
	User    *participant.User
	Pickup  models.Location
	Dropoff models.Location
}

type Service struct {
	Drivers     DriverPool
	Dispatch    *dispatch.Dispatcher
	Store       storage.RideStore
	LookupDelay time.Duration // simulated wait before the pool is read
	AcceptDelay time.Duration // simulated dispatch delay before the driver accepts
	RideOptions []ride.Option
	Logger      *slog.Logger
}

// FindNearest returns the available driver closest to origin. Ties keep
// the driver that comes first in drivers.
func FindNearest(origin models.Coord, drivers []*participant.Driver) (*participant.Driver, float64, error) {
	if len(drivers) == 0 {
		return nil, 0, models.ErrNoDriversAvailable
	}
	idx, dist, ok := geo.Nearest(origin, drivers)
	if !ok {
		return nil, 0, models.ErrNoNearbyDrivers
	}
	return drivers[idx], dist, nil
}

// Match waits the lookup delay, picks the nearest available driver, builds
// the ride with that driver subscribed, waits the dispatch delay and has the
// driver accept. The
// returned task resolves to the accepted ride or to a typed error; failures
// are also logged here.
//
// Two matches can pick the same driver. Acceptance is a compare-and-set on
// the driver, so the loser's ride is cancelled and its task fails with an
// *models.UnavailableDriverError.
func (s *Service) Match(ctx context.Context, req Request) *task.Task[*ride.Ride] {
	return task.Go(ctx, func(ctx context.Context) (*ride.Ride, error) {
		start := time.Now()
		if err := task.Sleep(ctx, s.LookupDelay); err != nil {
			s.fail(req, nil, err)
			return nil, err
		}
		d, dist, err := FindNearest(req.Pickup.Coord, s.Drivers.AvailableDrivers())
		if err != nil {
			s.fail(req, nil, err)
			return nil, err
		}
		r := req.User.RequestRide(req.Pickup, req.Dropoff, d, s.RideOptions...)
		if s.Store != nil {
			if err := s.Store.SaveRide(r); err != nil {
				s.logger().Warn("save ride failed", "ride_id", r.ID(), "error", err)
			}
		}
		s.logger().Debug("driver selected", "ride_id", r.ID(), "driver_id", d.ID(), "distance", dist)

		if err := task.Sleep(ctx, s.AcceptDelay); err != nil {
			_ = r.Cancel()
			s.fail(req, r, err)
			return nil, err
		}
		if err := d.AcceptRide(r); err != nil {
			_ = r.Cancel()
			s.fail(req, r, err)
			return nil, err
		}
		observability.MatchesTotal.Inc()
		observability.MatchLatency.Observe(time.Since(start).Seconds())
		if s.Dispatch != nil {
			s.Dispatch.Notify(r.Snapshot())
		}
		return r, nil
	})
}

func (s *Service) fail(req Request, r *ride.Ride, err error) {
	observability.MatchFailures.WithLabelValues(failureReason(err)).Inc()
	args := []any{"user_id", req.User.ID(), "error", err}
	if r != nil {
		args = append(args, "ride_id", r.ID())
	}
	s.logger().Error("error matching ride", args...)
}

func failureReason(err error) string {
	var nd *models.NoDriverFoundError
	var ud *models.UnavailableDriverError
	switch {
	case errors.As(err, &nd):
		return "no_driver"
	case errors.As(err, &ud):
		return "driver_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
