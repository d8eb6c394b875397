package participant

import (
	"fmt"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/ride"
)

const DefaultPremiumDiscount = 0.2

type PremiumPolicy struct {
	Benefits string
	Discount float64
}

type User struct {
	base
	payment string
	premium *PremiumPolicy
}

func NewUser(name, paymentDetails string, opts ...Option) *User {
	u := &User{payment: paymentDetails}
	u.init(name, RoleUser, opts)
	return u
}

// NewPremiumUser builds a user whose ride requests are discounted. A zero
// Discount falls back to DefaultPremiumDiscount.
func NewPremiumUser(name, paymentDetails string, p PremiumPolicy, opts ...Option) *User {
	if p.Discount <= 0 {
		p.Discount = DefaultPremiumDiscount
	}
	u := NewUser(name, paymentDetails, opts...)
	u.premium = &p
	return u
}

// PaymentDetails is opaque to the lifecycle; only payment processors read it.
func (u *User) PaymentDetails() string { return u.payment }

func (u *User) Premium() (PremiumPolicy, bool) {
	if u.premium == nil {
		return PremiumPolicy{}, false
	}
	return *u.premium, true
}

// RequestRide creates a ride owned by u and subscribes u to it. When driver
// is non-nil it is subscribed as well so it hears about the request; it
// still has to accept. Premium users get their discount before anyone is
// told the fare.
func (u *User) RequestRide(pickup, dropoff models.Location, driver *Driver, opts ...ride.Option) *ride.Ride {
	opts = append([]ride.Option{ride.WithPublisher(u.pub)}, opts...)
	r := ride.New(u, pickup, dropoff, opts...)
	if u.premium != nil {
		if orig, disc, ok := r.ApplyDiscount(u.premium.Discount); ok {
			u.pub.Publish(events.Event{
				Type:          events.FareDiscounted,
				RideID:        r.ID(),
				ParticipantID: u.id,
				Status:        models.StatusPending,
				Message:       fmt.Sprintf("Fare for premium user %s is $%.2f from $%.2f", u.name, disc, orig),
				Attrs:         map[string]any{"original_fare": orig, "fare": disc},
			})
		}
	}
	// r is still pending, and Subscribe only fails on a finished ride.
	_ = r.Subscribe(u)
	if driver != nil {
		_ = r.Subscribe(driver)
	}
	return r
}

// RateDriver files a rating against d.
func (u *User) RateDriver(d *Driver, score int, feedback string) (models.Rating, error) {
	return u.rate(&d.base, score, feedback)
}
