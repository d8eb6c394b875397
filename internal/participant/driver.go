package participant

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/ride"
)

const DefaultVIPMinRating = 4.5

// VIPPolicy gates acceptance: the driver must be VIP-active and the
// requester's average rating at least MinRating. Unrated requesters count
// as 5.
type VIPPolicy struct {
	Active    bool
	MinRating float64
}

type Driver struct {
	base
	car string

	available atomic.Bool

	locMu    sync.RWMutex
	location models.Coord

	vip *VIPPolicy
}

func NewDriver(name, carDetails string, opts ...Option) *Driver {
	d := &Driver{car: carDetails}
	d.init(name, RoleDriver, opts)
	d.available.Store(true)
	observability.DriversAvailable.Inc()
	return d
}

// NewVIPDriver builds a driver that filters who it accepts. A zero
// MinRating falls back to DefaultVIPMinRating.
func NewVIPDriver(name, carDetails string, p VIPPolicy, opts ...Option) *Driver {
	if p.MinRating <= 0 {
		p.MinRating = DefaultVIPMinRating
	}
	d := NewDriver(name, carDetails, opts...)
	d.vip = &p
	return d
}

func (d *Driver) Car() string { return d.car }

func (d *Driver) Available() bool { return d.available.Load() }

func (d *Driver) VIP() (VIPPolicy, bool) {
	if d.vip == nil {
		return VIPPolicy{}, false
	}
	return *d.vip, true
}

// Position is the last reported location.
func (d *Driver) Position() models.Coord {
	d.locMu.RLock()
	defer d.locMu.RUnlock()
	return d.location
}

func (d *Driver) UpdateLocation(lat, lon float64) {
	d.locMu.Lock()
	d.location = models.Coord{Lat: lat, Lon: lon}
	d.locMu.Unlock()
}

// Reserve marks the driver busy. Only one caller wins the flip.
func (d *Driver) Reserve() bool {
	if !d.available.CompareAndSwap(true, false) {
		return false
	}
	observability.DriversAvailable.Dec()
	return true
}

// Release marks the driver free again. Releasing a free driver does nothing.
func (d *Driver) Release() {
	if d.available.CompareAndSwap(false, true) {
		observability.DriversAvailable.Inc()
	}
}

// AcceptRide applies the VIP filter and assigns d to r. The ride reserves
// the driver with a compare-and-set, so of two concurrent acceptances by the
// same driver exactly one wins and the other gets an
// *models.UnavailableDriverError.
func (d *Driver) AcceptRide(r *ride.Ride) error {
	if d.vip != nil {
		if !d.vip.Active {
			return d.refuse(r, models.ReasonVIPInactive)
		}
		rating, ok := r.Requester().AverageRating()
		if !ok {
			rating = 5
		}
		if rating < d.vip.MinRating {
			return d.refuse(r, models.ReasonLowRating)
		}
	}
	if err := r.AssignDriver(d); err != nil {
		return err
	}
	msg := fmt.Sprintf("%s accepted the ride for %s", d.name, r.Requester().Name())
	if d.vip != nil {
		msg = fmt.Sprintf("VIP driver %s assigned to %s", d.name, r.Requester().Name())
	}
	d.pub.Publish(events.Event{
		Type:          events.DriverAccepted,
		RideID:        r.ID(),
		ParticipantID: d.id,
		Status:        models.StatusActive,
		Message:       msg,
	})
	return nil
}

// RateUser files a rating against u.
func (d *Driver) RateUser(u *User, score int, feedback string) (models.Rating, error) {
	return d.rate(&u.base, score, feedback)
}

func (d *Driver) refuse(r *ride.Ride, reason string) error {
	d.pub.Publish(events.Event{
		Type:          events.AcceptRefused,
		RideID:        r.ID(),
		ParticipantID: d.id,
		Status:        r.Status(),
		Message:       fmt.Sprintf("%s %s", d.name, reason),
		Attrs:         map[string]any{"reason": reason},
	})
	return &models.UnavailableDriverError{DriverID: d.id, Reason: reason}
}
