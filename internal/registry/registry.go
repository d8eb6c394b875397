package registry

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/matcher"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/task"
)

var ErrNotFound = errors.New("not found")

type Config struct {
	Events    events.Publisher
	Store     storage.RideStore
	Processor payments.Processor
	Logger    *slog.Logger

	LookupDelay     time.Duration
	MatchDelay      time.Duration
	PremiumDiscount float64
	VIPMinRating    float64
	RideOptions     []ride.Option
}

// Registry owns the participants and rides of one simulation. It is built
// explicitly and passed to whoever needs it; there is no process-wide
// instance.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*participant.User
	drivers []*participant.Driver
	byID    map[string]*participant.Driver

	rides    storage.RideStore
	events   events.Publisher
	dispatch *dispatch.Dispatcher
	matcher  *matcher.Service
	payments *payments.Service
	logger   *slog.Logger

	premiumDiscount float64
	vipMinRating    float64
	rideOpts        []ride.Option
}

func New(cfg Config) *Registry {
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Processor == nil {
		cfg.Processor = payments.NewSimulator(0.8, time.Second)
	}
	r := &Registry{
		users:           make(map[string]*participant.User),
		byID:            make(map[string]*participant.Driver),
		rides:           cfg.Store,
		events:          cfg.Events,
		dispatch:        dispatch.NewDispatcher(cfg.Events),
		logger:          cfg.Logger,
		premiumDiscount: cfg.PremiumDiscount,
		vipMinRating:    cfg.VIPMinRating,
		rideOpts:        cfg.RideOptions,
	}
	r.matcher = &matcher.Service{
		Drivers:     r,
		Dispatch:    r.dispatch,
		Store:       r.rides,
		LookupDelay: cfg.LookupDelay,
		AcceptDelay: cfg.MatchDelay,
		RideOptions: cfg.RideOptions,
		Logger:      cfg.Logger,
	}
	r.payments = &payments.Service{
		Processor: cfg.Processor,
		Dispatch:  r.dispatch,
		Events:    cfg.Events,
		Logger:    cfg.Logger,
	}
	return r
}

func (r *Registry) Events() events.Publisher { return r.events }

// NewUser builds a user wired to the registry's event stream and adds it.
// A non-nil premium makes it a premium user.
func (r *Registry) NewUser(name, paymentDetails string, premium *participant.PremiumPolicy) *participant.User {
	var u *participant.User
	if premium != nil {
		p := *premium
		if p.Discount <= 0 {
			p.Discount = r.premiumDiscount
		}
		u = participant.NewPremiumUser(name, paymentDetails, p, participant.WithPublisher(r.events))
	} else {
		u = participant.NewUser(name, paymentDetails, participant.WithPublisher(r.events))
	}
	r.AddUser(u)
	return u
}

// NewDriver builds a driver wired to the registry's event stream and adds
// it. A non-nil vip makes it a VIP driver.
func (r *Registry) NewDriver(name, carDetails string, vip *participant.VIPPolicy) *participant.Driver {
	var d *participant.Driver
	if vip != nil {
		p := *vip
		if p.MinRating <= 0 {
			p.MinRating = r.vipMinRating
		}
		d = participant.NewVIPDriver(name, carDetails, p, participant.WithPublisher(r.events))
	} else {
		d = participant.NewDriver(name, carDetails, participant.WithPublisher(r.events))
	}
	r.AddDriver(d)
	return d
}

func (r *Registry) AddUser(u *participant.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID()] = u
}

func (r *Registry) AddDriver(d *participant.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID()]; ok {
		return
	}
	r.byID[d.ID()] = d
	r.drivers = append(r.drivers, d)
}

func (r *Registry) AddRide(rd *ride.Ride) error {
	return r.rides.SaveRide(rd)
}

func (r *Registry) User(id string) (*participant.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *Registry) Driver(id string) (*participant.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *Registry) Ride(id string) (*ride.Ride, error) {
	rd, ok := r.rides.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rd, nil
}

// AvailableDrivers lists free drivers in the order they were added.
func (r *Registry) AvailableDrivers() []*participant.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*participant.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		if d.Available() {
			out = append(out, d)
		}
	}
	return out
}

// Rides iterates every known ride. Each range starts over from the current
// set of rides.
func (r *Registry) Rides() iter.Seq[*ride.Ride] {
	return func(yield func(*ride.Ride) bool) {
		for _, rd := range r.rides.List() {
			if !yield(rd) {
				return
			}
		}
	}
}

// RidesByStatus lazily filters rides by their status at the time each ride
// is reached.
func (r *Registry) RidesByStatus(status models.Status) iter.Seq[*ride.Ride] {
	return func(yield func(*ride.Ride) bool) {
		for rd := range r.Rides() {
			if rd.Status() != status {
				continue
			}
			if !yield(rd) {
				return
			}
		}
	}
}

func (r *Registry) ActiveRides() iter.Seq[*ride.Ride] {
	return r.RidesByStatus(models.StatusActive)
}

// RequestRide is the single entry point for new rides. With a driver the
// ride is created directly, both parties subscribed, and the task is
// already resolved; the driver still has to accept. Without one the
// matcher picks the nearest available driver and has it accept.
func (r *Registry) RequestRide(ctx context.Context, u *participant.User, pickup, dropoff models.Location, driver *participant.Driver) *task.Task[*ride.Ride] {
	if driver == nil {
		return r.matcher.Match(ctx, matcher.Request{User: u, Pickup: pickup, Dropoff: dropoff})
	}
	rd := u.RequestRide(pickup, dropoff, driver, r.rideOpts...)
	if err := r.AddRide(rd); err != nil {
		return task.Resolved[*ride.Ride](nil, err)
	}
	return task.Resolved(rd, nil)
}

// OpenRide creates a pending ride for u with no driver attached and
// registers it. The ride uses the registry's ride options.
func (r *Registry) OpenRide(u *participant.User, pickup, dropoff models.Location) (*ride.Ride, error) {
	rd := u.RequestRide(pickup, dropoff, nil, r.rideOpts...)
	if err := r.AddRide(rd); err != nil {
		return nil, err
	}
	return rd, nil
}

// Pay runs the payment routine for rd on behalf of u.
func (r *Registry) Pay(ctx context.Context, u *participant.User, rd *ride.Ride, tip float64) (*task.Task[*ride.Ride], error) {
	return r.payments.Process(ctx, u, rd, tip)
}

// Notify sends the factory notification for the ride's current state.
func (r *Registry) Notify(rd *ride.Ride) dispatch.Notification {
	return r.dispatch.Notify(rd.Snapshot())
}
