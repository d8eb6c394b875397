package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakePool struct{ drivers []*participant.Driver }

func (f *fakePool) AvailableDrivers() []*participant.Driver {
	out := make([]*participant.Driver, 0, len(f.drivers))
	for _, d := range f.drivers {
		if d.Available() {
			out = append(out, d)
		}
	}
	return out
}

// stalePool hands out the same list regardless of availability, the way a
// read taken before another match flipped the driver would.
type stalePool struct{ drivers []*participant.Driver }

func (s *stalePool) AvailableDrivers() []*participant.Driver { return s.drivers }

type countingPool struct {
	fakePool
	mu    sync.Mutex
	reads []time.Time
}

func (c *countingPool) AvailableDrivers() []*participant.Driver {
	c.mu.Lock()
	c.reads = append(c.reads, time.Now())
	c.mu.Unlock()
	return c.fakePool.AvailableDrivers()
}

func (c *countingPool) readTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.reads...)
}

func driverAt(name string, lat, lon float64) *participant.Driver {
	d := participant.NewDriver(name, "car")
	d.UpdateLocation(lat, lon)
	return d
}

func TestFindNearestEmptyPool(t *testing.T) {
	_, _, err := FindNearest(models.Coord{}, nil)
	var nd *models.NoDriverFoundError
	if !errors.As(err, &nd) || err != models.ErrNoDriversAvailable {
		t.Fatalf("expected no drivers available, got %v", err)
	}
}

func TestFindNearestSameLocationZeroDistance(t *testing.T) {
	d := driverAt("Helen", 3, 4)
	got, dist, err := FindNearest(models.Coord{Lat: 3, Lon: 4}, []*participant.Driver{d})
	if err != nil || got != d || dist != 0 {
		t.Fatalf("expected Helen at 0, got %v %f %v", got, dist, err)
	}
}

func TestFindNearestChoosesClosestThenFirstSeen(t *testing.T) {
	helen := driverAt("Helen", 1, 1)
	ian := driverAt("Ian", 0.1, 0.1)
	got, _, err := FindNearest(models.Coord{}, []*participant.Driver{helen, ian})
	if err != nil || got != ian {
		t.Fatalf("expected Ian, got %v %v", got, err)
	}

	a := driverAt("A", 1, 0)
	b := driverAt("B", 0, 1)
	got, _, _ = FindNearest(models.Coord{}, []*participant.Driver{a, b})
	if got != a {
		t.Fatalf("expected first-seen A on tie, got %s", got.Name())
	}
}

func TestMatchAcceptsNearestDriver(t *testing.T) {
	rec := &events.Recorder{}
	helen := driverAt("Helen", 1, 1)
	ian := driverAt("Ian", 0.1, 0.1)
	store := storage.NewMemoryStore()
	s := &Service{
		Drivers:     &fakePool{drivers: []*participant.Driver{helen, ian}},
		Dispatch:    dispatch.NewDispatcher(rec),
		Store:       store,
		AcceptDelay: 5 * time.Millisecond,
		RideOptions: []ride.Option{ride.WithFare(ride.FixedFare(25))},
	}
	jack := participant.NewUser("Jack", "Visa")

	r, err := s.Match(context.Background(), Request{User: jack, Pickup: models.Location{Coord: models.Coord{}}}).Wait(context.Background())
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if r.Status() != models.StatusActive || r.Driver().ID() != ian.ID() {
		t.Fatalf("expected Ian to accept, got %s %v", r.Status(), r.Driver())
	}
	if ian.Available() || !helen.Available() {
		t.Fatalf("only Ian should be busy")
	}
	if _, ok := store.Get(r.ID()); !ok {
		t.Fatalf("matched ride should be stored")
	}
	sent := rec.Filter(events.NotificationSent, jack.ID())
	if len(sent) != 1 || sent[0].Attrs["kind"] != string(dispatch.KindActive) {
		t.Fatalf("expected one active notification, got %+v", sent)
	}
}

func TestMatchNoDrivers(t *testing.T) {
	s := &Service{Drivers: &fakePool{}}
	_, err := s.Match(context.Background(), Request{User: participant.NewUser("Jack", "Visa")}).Wait(context.Background())
	if !errors.Is(err, models.ErrNoDriversAvailable) {
		t.Fatalf("expected no drivers available, got %v", err)
	}
}

func TestMatchCancelledDuringDelay(t *testing.T) {
	d := driverAt("Helen", 0, 0)
	s := &Service{Drivers: &fakePool{drivers: []*participant.Driver{d}}, AcceptDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	tk := s.Match(ctx, Request{User: participant.NewUser("Jack", "Visa")})
	cancel()
	if _, err := tk.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if !d.Available() {
		t.Fatalf("driver must stay available when the match is abandoned")
	}
}

func TestMatchWaitsBeforeReadingPool(t *testing.T) {
	pool := &countingPool{fakePool: fakePool{drivers: []*participant.Driver{driverAt("Helen", 0, 0)}}}
	s := &Service{Drivers: pool, LookupDelay: 20 * time.Millisecond}
	start := time.Now()
	if _, err := s.Match(context.Background(), Request{User: participant.NewUser("Jack", "Visa")}).Wait(context.Background()); err != nil {
		t.Fatalf("match: %v", err)
	}
	reads := pool.readTimes()
	if len(reads) != 1 || reads[0].Sub(start) < 20*time.Millisecond {
		t.Fatalf("pool must be read once after the lookup delay, got %v", reads)
	}
}

func TestMatchCancelledDuringLookup(t *testing.T) {
	d := driverAt("Helen", 0, 0)
	pool := &countingPool{fakePool: fakePool{drivers: []*participant.Driver{d}}}
	s := &Service{Drivers: pool, LookupDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	tk := s.Match(ctx, Request{User: participant.NewUser("Jack", "Visa")})
	cancel()
	if _, err := tk.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if len(pool.readTimes()) != 0 || !d.Available() {
		t.Fatalf("an abandoned lookup must not read the pool or touch drivers")
	}
}

func TestConcurrentMatchesShareOneDriver(t *testing.T) {
	bob := driverAt("Bob", 0, 0)
	s := &Service{Drivers: &stalePool{drivers: []*participant.Driver{bob}}, AcceptDelay: time.Millisecond}

	const n = 4
	var wg sync.WaitGroup
	type result struct {
		r   *ride.Ride
		err error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Match(context.Background(), Request{User: participant.NewUser("rider", "Visa")}).Wait(context.Background())
			results <- result{r, err}
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for res := range results {
		if res.err == nil {
			won++
			continue
		}
		var ud *models.UnavailableDriverError
		if !errors.As(res.err, &ud) {
			t.Fatalf("unexpected error: %v", res.err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one match to win the driver, got %d", won)
	}
}
