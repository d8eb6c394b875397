package ride

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRideFinished      = errors.New("ride already finished")
	ErrAlreadyAssigned   = errors.New("ride already has a driver")
	ErrPaymentInProgress = errors.New("payment already in progress")
)

// Observer receives a copy of the ride state after every transition. It is
// called with the ride locked, so it must not call back into the ride.
type Observer interface {
	ID() string
	OnUpdate(s Snapshot)
}

type Requester interface {
	Observer
	Name() string
	AverageRating() (float64, bool)
}

type Driver interface {
	Observer
	Name() string
	Car() string
	// Reserve flags the driver busy. It reports false if the driver was
	// already busy.
	Reserve() bool
	// Release flags the driver available again.
	Release()
}

// Snapshot is a point-in-time copy of a ride.
type Snapshot struct {
	ID            string          `json:"id"`
	RequesterID   string          `json:"requester_id"`
	RequesterName string          `json:"requester_name"`
	DriverID      string          `json:"driver_id,omitempty"`
	DriverName    string          `json:"driver_name,omitempty"`
	DriverCar     string          `json:"driver_car,omitempty"`
	Pickup        models.Location `json:"pickup"`
	Dropoff       models.Location `json:"dropoff"`
	Status        models.Status   `json:"status"`
	BaseFare      float64         `json:"base_fare"`
	Fare          float64         `json:"fare"`
	Discounted    bool            `json:"discounted"`
	Tip           float64         `json:"tip"`
	CreatedAt     time.Time       `json:"created_at"`
	StartTime     time.Time       `json:"start_time,omitzero"`
	EndTime       time.Time       `json:"end_time,omitzero"`
}

func (s Snapshot) HasDriver() bool { return s.DriverID != "" }

type FareFunc func() float64

// Default fare bounds: base fares fall in [DefaultFareMin, DefaultFareMin+DefaultFareSpread).
const (
	DefaultFareMin    = 10.0
	DefaultFareSpread = 50.0
)

// RandomFare draws uniformly from [min, min+spread).
func RandomFare(min, spread float64) FareFunc {
	return func() float64 { return min + rand.Float64()*spread }
}

// FixedFare always returns f.
func FixedFare(f float64) FareFunc {
	return func() float64 { return f }
}

type Option func(*Ride)

func WithID(id string) Option { return func(r *Ride) { r.id = id } }

func WithFare(f FareFunc) Option { return func(r *Ride) { r.fareFn = f } }

func WithPublisher(p events.Publisher) Option { return func(r *Ride) { r.pub = p } }

func WithClock(now func() time.Time) Option { return func(r *Ride) { r.now = now } }

// Ride is the lifecycle state machine. All mutation goes through its
// methods and happens under one lock, so a ride's transitions and the
// notifications they produce are strictly sequential.
type Ride struct {
	mu sync.Mutex

	id        string
	requester Requester
	pickup    models.Location
	dropoff   models.Location
	status    models.Status

	baseFare   float64
	fare       float64
	discounted bool
	tip        float64
	paying     bool

	driver    Driver
	observers []Observer

	createdAt time.Time
	startTime time.Time
	endTime   time.Time

	fareFn FareFunc
	pub    events.Publisher
	now    func() time.Time
}

// New creates a pending ride owned by requester. It does not subscribe
// anyone and does not touch any driver.
func New(requester Requester, pickup, dropoff models.Location, opts ...Option) *Ride {
	r := &Ride{
		requester: requester,
		pickup:    pickup,
		dropoff:   dropoff,
		status:    models.StatusPending,
		fareFn:    RandomFare(DefaultFareMin, DefaultFareSpread),
		pub:       events.Discard,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.baseFare = r.fareFn()
	r.fare = r.baseFare
	r.createdAt = r.now()
	observability.RidesRequested.Inc()
	return r
}

func (r *Ride) ID() string { return r.id }

func (r *Ride) Requester() Requester { return r.requester }

func (r *Ride) Status() models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Driver returns the assigned driver or nil.
func (r *Ride) Driver() Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driver
}

func (r *Ride) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Ride) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// Subscribe adds o and immediately sends it the current state. Subscribing
// an observer that is already present does nothing.
func (r *Ride) Subscribe(o Observer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRideFinished
	}
	if r.addObserverLocked(o) {
		o.OnUpdate(r.snapshotLocked())
	}
	return nil
}

func (r *Ride) Unsubscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeObserverLocked(o.ID())
}

// AssignDriver reserves d, attaches it and moves the ride to active. The
// driver is subscribed if it was not already. A busy driver leaves the ride
// untouched and yields an *models.UnavailableDriverError.
func (r *Ride) AssignDriver(d Driver) error {
	if d == nil {
		return fmt.Errorf("%w: nil driver", ErrInvalidTransition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRideFinished
	}
	if r.status != models.StatusPending {
		return ErrAlreadyAssigned
	}
	if !d.Reserve() {
		r.pub.Publish(events.Event{
			Type:          events.AcceptRefused,
			RideID:        r.id,
			ParticipantID: d.ID(),
			Status:        r.status,
			Message:       fmt.Sprintf("%s %s", d.Name(), models.ReasonBusy),
			Attrs:         map[string]any{"reason": models.ReasonBusy},
		})
		return &models.UnavailableDriverError{DriverID: d.ID(), Reason: models.ReasonBusy}
	}
	r.driver = d
	r.addObserverLocked(d)
	r.transitionLocked(models.StatusActive)
	return nil
}

// UpdateStatus moves the ride forward along the lifecycle. Setting the
// current status again is a no-op. Cancelled is accepted from any
// non-terminal status; completed is only reachable through Complete.
func (r *Ride) UpdateStatus(next models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next == r.status {
		return nil
	}
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if r.status.Terminal() {
		return ErrRideFinished
	}
	if next == models.StatusCancelled {
		r.finishLocked(models.StatusCancelled)
		return nil
	}
	if next == models.StatusCompleted {
		return fmt.Errorf("%w: completing a ride goes through Complete", ErrInvalidTransition)
	}
	if !r.status.Assigned() {
		return fmt.Errorf("%w: %s -> %s needs an assigned driver", ErrInvalidTransition, r.status, next)
	}
	cur, _ := r.status.Rank()
	to, _ := next.Rank()
	if to <= cur {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, next)
	}
	if next == models.StatusInProgress && r.startTime.IsZero() {
		r.startTime = r.now()
	}
	r.transitionLocked(next)
	return nil
}

// Start marks pickup done and the ride in progress.
func (r *Ride) Start() error {
	return r.UpdateStatus(models.StatusInProgress)
}

// Complete finishes the ride, frees the driver, notifies every observer and
// then drops them all.
func (r *Ride) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRideFinished
	}
	if !r.status.Assigned() {
		return fmt.Errorf("%w: cannot complete a ride without a driver", ErrInvalidTransition)
	}
	r.finishLocked(models.StatusCompleted)
	return nil
}

func (r *Ride) Cancel() error {
	return r.UpdateStatus(models.StatusCancelled)
}

// ApplyDiscount lowers the fare by rate, once per ride.
func (r *Ride) ApplyDiscount(rate float64) (original, discounted float64, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.discounted || r.status.Terminal() || rate <= 0 || rate >= 1 {
		return r.baseFare, r.fare, false
	}
	r.fare = r.baseFare * (1 - rate)
	r.discounted = true
	return r.baseFare, r.fare, true
}

// RecordTip stores the requester's tip. It does not notify observers; the
// completion notification carries the amount.
func (r *Ride) RecordTip(amount float64) error {
	if amount < 0 {
		return &models.ValidationError{Field: "tip", Reason: "tip must not be negative"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRideFinished
	}
	r.tip = amount
	r.pub.Publish(events.Event{
		Type:          events.TipRecorded,
		RideID:        r.id,
		ParticipantID: r.requester.ID(),
		Status:        r.status,
		Message:       fmt.Sprintf("%s gave a tip of $%.2f for this ride", r.requester.Name(), amount),
		Attrs:         map[string]any{"tip": amount},
	})
	return nil
}

// BeginPayment claims the ride for one payment attempt. It fails while
// another attempt is in flight, before a driver is assigned and once the
// ride is finished. EndPayment gives the claim back.
func (r *Ride) BeginPayment() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRideFinished
	}
	if !r.status.Assigned() {
		return fmt.Errorf("%w: ride %s has no driver yet", ErrInvalidTransition, r.id)
	}
	if r.paying {
		return ErrPaymentInProgress
	}
	r.paying = true
	return nil
}

func (r *Ride) EndPayment() {
	r.mu.Lock()
	r.paying = false
	r.mu.Unlock()
}

func (r *Ride) finishLocked(status models.Status) {
	r.endTime = r.now()
	if r.driver != nil {
		r.driver.Release()
	}
	r.transitionLocked(status)
	r.observers = nil
}

func (r *Ride) transitionLocked(status models.Status) {
	r.status = status
	observability.RideTransitions.WithLabelValues(string(status)).Inc()
	snap := r.snapshotLocked()
	r.pub.Publish(events.Event{
		Type:    events.RideStatusChanged,
		RideID:  r.id,
		Status:  status,
		Message: status.Message(),
	})
	for _, o := range r.observers {
		o.OnUpdate(snap)
	}
}

func (r *Ride) addObserverLocked(o Observer) bool {
	for _, existing := range r.observers {
		if existing.ID() == o.ID() {
			return false
		}
	}
	r.observers = append(r.observers, o)
	return true
}

func (r *Ride) removeObserverLocked(id string) {
	out := r.observers[:0]
	for _, o := range r.observers {
		if o.ID() != id {
			out = append(out, o)
		}
	}
	r.observers = out
}

func (r *Ride) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:         r.id,
		Pickup:     r.pickup,
		Dropoff:    r.dropoff,
		Status:     r.status,
		BaseFare:   r.baseFare,
		Fare:       r.fare,
		Discounted: r.discounted,
		Tip:        r.tip,
		CreatedAt:  r.createdAt,
		StartTime:  r.startTime,
		EndTime:    r.endTime,
	}
	if r.requester != nil {
		s.RequesterID = r.requester.ID()
		s.RequesterName = r.requester.Name()
	}
	if r.driver != nil {
		s.DriverID = r.driver.ID()
		s.DriverName = r.driver.Name()
		s.DriverCar = r.driver.Car()
	}
	return s
}
