package participant

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/ride"
)

var (
	mainSt = models.Location{Name: "Main St"}
	elmSt  = models.Location{Name: "Elm St"}
)

func TestRequestRideWithDriverSubscribesBoth(t *testing.T) {
	rec := &events.Recorder{}
	alice := NewUser("Alice", "Visa", WithPublisher(rec))
	bob := NewDriver("Bob", "Tesla Model 3", WithPublisher(rec))

	r := alice.RequestRide(mainSt, elmSt, bob)
	if r.Status() != models.StatusPending {
		t.Fatalf("expected pending, got %s", r.Status())
	}
	if r.ObserverCount() != 2 {
		t.Fatalf("expected 2 observers, got %d", r.ObserverCount())
	}
	if !bob.Available() {
		t.Fatalf("request must not touch driver availability")
	}
	if n := len(rec.Filter(events.ParticipantNotified, alice.ID())); n != 1 {
		t.Fatalf("expected initial sync for Alice, got %d", n)
	}
	if n := len(rec.Filter(events.ParticipantNotified, bob.ID())); n != 1 {
		t.Fatalf("expected initial sync for Bob, got %d", n)
	}
}

func TestRequestRideWithoutDriverSubscribesRequester(t *testing.T) {
	rec := &events.Recorder{}
	alice := NewUser("Alice", "Visa", WithPublisher(rec))
	r := alice.RequestRide(mainSt, elmSt, nil)
	if r.ObserverCount() != 1 || r.Driver() != nil {
		t.Fatalf("expected only the requester subscribed, got %d observers", r.ObserverCount())
	}
	if n := len(rec.Filter(events.ParticipantNotified, alice.ID())); n != 1 {
		t.Fatalf("expected initial sync for Alice, got %d", n)
	}
}

func TestAcceptRide(t *testing.T) {
	alice := NewUser("Alice", "Visa")
	bob := NewDriver("Bob", "Tesla Model 3")
	r := alice.RequestRide(mainSt, elmSt, bob)

	if err := bob.AcceptRide(r); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if r.Status() != models.StatusActive {
		t.Fatalf("expected active, got %s", r.Status())
	}
	if bob.Available() {
		t.Fatalf("driver should be busy")
	}

	other := alice.RequestRide(elmSt, mainSt, nil)
	err := bob.AcceptRide(other)
	var ue *models.UnavailableDriverError
	if !errors.As(err, &ue) || ue.Reason != models.ReasonBusy {
		t.Fatalf("expected busy error, got %v", err)
	}
	if other.Status() != models.StatusPending || other.Driver() != nil {
		t.Fatalf("refused ride must stay untouched")
	}

	if err := r.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !bob.Available() {
		t.Fatalf("completion should release the driver")
	}
}

func TestAcceptFinishedRideLeavesDriverFree(t *testing.T) {
	alice := NewUser("Alice", "Visa")
	bob := NewDriver("Bob", "Tesla Model 3")
	r := alice.RequestRide(mainSt, elmSt, nil)
	_ = r.Cancel()
	if err := bob.AcceptRide(r); !errors.Is(err, ride.ErrRideFinished) {
		t.Fatalf("expected ErrRideFinished, got %v", err)
	}
	if !bob.Available() {
		t.Fatalf("failed assignment must leave the driver free")
	}
}

func TestAssignDriverOnSecondRideKeepsFirstReservation(t *testing.T) {
	alice := NewUser("Alice", "Visa")
	bob := NewDriver("Bob", "Tesla Model 3")
	first := alice.RequestRide(mainSt, elmSt, nil)
	second := alice.RequestRide(elmSt, mainSt, nil)

	if err := bob.AcceptRide(first); err != nil {
		t.Fatalf("accept: %v", err)
	}
	err := second.AssignDriver(bob)
	var ue *models.UnavailableDriverError
	if !errors.As(err, &ue) || ue.Reason != models.ReasonBusy {
		t.Fatalf("expected busy error, got %v", err)
	}
	if second.Status() != models.StatusPending || second.Driver() != nil {
		t.Fatalf("second ride must stay pending without a driver")
	}
	if err := second.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if bob.Available() {
		t.Fatalf("driver must stay busy while the first ride is %s", first.Status())
	}
	if err := first.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !bob.Available() {
		t.Fatalf("completing the first ride should release the driver")
	}
}

func TestConcurrentAcceptSameDriver(t *testing.T) {
	bob := NewDriver("Bob", "Tesla Model 3")
	const attempts = 8
	rides := make([]*ride.Ride, attempts)
	for i := range rides {
		rides[i] = NewUser("rider", "Visa").RequestRide(mainSt, elmSt, nil)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, r := range rides {
		wg.Add(1)
		go func(r *ride.Ride) {
			defer wg.Done()
			errs <- bob.AcceptRide(r)
		}(r)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		var ue *models.UnavailableDriverError
		if !errors.As(err, &ue) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	active := 0
	for _, r := range rides {
		if r.Status() == models.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active ride, got %d", active)
	}
}

func TestPremiumDiscountAppliedOncePerRide(t *testing.T) {
	rec := &events.Recorder{}
	charlie := NewPremiumUser("Charlie", "Mastercard", PremiumPolicy{Benefits: "VIP Benefits"}, WithPublisher(rec))
	for i := 0; i < 2; i++ {
		r := charlie.RequestRide(mainSt, elmSt, nil, ride.WithFare(ride.FixedFare(50)))
		s := r.Snapshot()
		if math.Abs(s.Fare-40) > 1e-9 || s.BaseFare != 50 || !s.Discounted {
			t.Fatalf("expected 0.8 x 50 = 40, got %+v", s)
		}
		if _, _, ok := r.ApplyDiscount(0.2); ok {
			t.Fatalf("discount must not stack")
		}
	}
	if n := len(rec.Filter(events.FareDiscounted, charlie.ID())); n != 2 {
		t.Fatalf("expected 2 discount events, got %d", n)
	}
	if p, ok := charlie.Premium(); !ok || p.Discount != DefaultPremiumDiscount {
		t.Fatalf("unexpected premium policy %+v %v", p, ok)
	}
	if _, ok := NewUser("Frank", "Visa").Premium(); ok {
		t.Fatalf("plain user must not be premium")
	}
}

func TestVIPInactiveNeverAccepts(t *testing.T) {
	eve := NewVIPDriver("Eve", "Porsche 911", VIPPolicy{Active: false})
	grace := NewUser("Grace", "Amex")
	for _, score := range []int{5, 5} {
		if _, err := eve.RateUser(grace, score, "great"); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}
	r := grace.RequestRide(mainSt, elmSt, eve)
	err := eve.AcceptRide(r)
	var ue *models.UnavailableDriverError
	if !errors.As(err, &ue) || ue.Reason != models.ReasonVIPInactive {
		t.Fatalf("expected VIP inactive refusal, got %v", err)
	}
	if r.Status() == models.StatusActive || !eve.Available() {
		t.Fatalf("inactive VIP must not take the ride")
	}
}

func TestVIPRatingThreshold(t *testing.T) {
	rec := &events.Recorder{}
	eve := NewVIPDriver("Eve", "Porsche 911", VIPPolicy{Active: true}, WithPublisher(rec))
	frank := NewUser("Frank", "Visa")

	first := frank.RequestRide(models.Location{Name: "5th Ave"}, models.Location{Name: "Broadway"}, eve)
	if err := eve.AcceptRide(first); err != nil {
		t.Fatalf("unrated requester counts as 5, got %v", err)
	}
	if err := first.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := eve.RateUser(frank, 3, "Average experience"); err != nil {
		t.Fatalf("rate: %v", err)
	}

	second := frank.RequestRide(models.Location{Name: "Times Square"}, models.Location{Name: "Central Park"}, eve)
	err := eve.AcceptRide(second)
	var ue *models.UnavailableDriverError
	if !errors.As(err, &ue) || ue.Reason != models.ReasonLowRating {
		t.Fatalf("expected low rating refusal, got %v", err)
	}
	if second.Status() != models.StatusPending {
		t.Fatalf("refused ride must stay pending")
	}
	if n := len(rec.Filter(events.AcceptRefused, eve.ID())); n != 1 {
		t.Fatalf("expected one refusal event, got %d", n)
	}
	accepted := rec.Filter(events.DriverAccepted, eve.ID())
	if len(accepted) != 1 || accepted[0].Message != "VIP driver Eve assigned to Frank" {
		t.Fatalf("unexpected accept events %+v", accepted)
	}
}

func TestRatingsGoToTarget(t *testing.T) {
	dave := NewDriver("Dave", "BMW i8")
	charlie := NewUser("Charlie", "Mastercard")

	if _, err := charlie.RateDriver(dave, 5, "Excellent service!"); err != nil {
		t.Fatalf("rate driver: %v", err)
	}
	if _, err := dave.RateUser(charlie, 4, "Pleasant customer"); err != nil {
		t.Fatalf("rate user: %v", err)
	}
	if avg, ok := dave.AverageRating(); !ok || avg != 5 {
		t.Fatalf("expected Dave 5, got %f %v", avg, ok)
	}
	if avg, ok := charlie.AverageRating(); !ok || avg != 4 {
		t.Fatalf("expected Charlie 4, got %f %v", avg, ok)
	}

	for _, score := range []int{0, 6} {
		_, err := charlie.RateDriver(dave, score, "")
		var ve *models.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("score %d: expected ValidationError, got %v", score, err)
		}
	}
	if n := len(dave.Ratings()); n != 1 {
		t.Fatalf("rejected ratings must not be stored, got %d", n)
	}
	if _, ok := NewDriver("New", "Car").AverageRating(); ok {
		t.Fatalf("unrated driver must report ok=false")
	}
}

func TestUpdateLocation(t *testing.T) {
	d := NewDriver("Helen", "Toyota Prius")
	d.UpdateLocation(1, 2)
	if p := d.Position(); p.Lat != 1 || p.Lon != 2 {
		t.Fatalf("unexpected position %+v", p)
	}
}

func TestOnUpdateMessageByRole(t *testing.T) {
	rec := &events.Recorder{}
	u := NewUser("Alice", "Visa", WithPublisher(rec), WithID("u1"))
	d := NewDriver("Bob", "Tesla", WithPublisher(rec), WithID("d1"))
	s := ride.Snapshot{ID: "r1", Status: models.StatusActive}
	u.OnUpdate(s)
	d.OnUpdate(s)
	got := rec.Events()
	if got[0].Message != `User notification: Alice received a ride update: status is now "active"` {
		t.Fatalf("unexpected user message %q", got[0].Message)
	}
	if got[1].Message != `Driver notification: Bob received a ride update: status is now "active"` {
		t.Fatalf("unexpected driver message %q", got[1].Message)
	}
}
