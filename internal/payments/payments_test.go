package payments

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
	"github.com/example/ride-lifecycle/internal/task"
)

type fixedProcessor struct {
	err     error
	charges []Charge
}

func (f *fixedProcessor) Collect(ctx context.Context, c Charge) error {
	f.charges = append(f.charges, c)
	return f.err
}

func acceptedRide(t *testing.T, pub events.Publisher) (*participant.User, *participant.Driver, *ride.Ride) {
	t.Helper()
	alice := participant.NewUser("Alice", "Visa", participant.WithPublisher(pub))
	bob := participant.NewDriver("Bob", "Tesla Model 3", participant.WithPublisher(pub))
	r := alice.RequestRide(models.Location{Name: "Main St"}, models.Location{Name: "Elm St"}, bob, ride.WithFare(ride.FixedFare(30)))
	if err := bob.AcceptRide(r); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return alice, bob, r
}

func TestSimulatorOutcome(t *testing.T) {
	s := &Simulator{SuccessRate: 0.8, Rand: func() float64 { return 0.5 }}
	if err := s.Collect(context.Background(), Charge{}); err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
	s.Rand = func() float64 { return 0.9 }
	err := s.Collect(context.Background(), Charge{Ride: ride.Snapshot{ID: "r1"}})
	var failure *models.PaymentFailure
	if !errors.As(err, &failure) || failure.RideID != "r1" {
		t.Fatalf("expected PaymentFailure, got %v", err)
	}
}

func TestSimulatorRespectsContext(t *testing.T) {
	s := NewSimulator(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Collect(ctx, Charge{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestSimulatorRoughlyEightyPercent(t *testing.T) {
	s := NewSimulator(0.8, 0)
	ok := 0
	const runs = 2000
	for i := 0; i < runs; i++ {
		if s.Collect(context.Background(), Charge{}) == nil {
			ok++
		}
	}
	if ok < runs*70/100 || ok > runs*90/100 {
		t.Fatalf("expected about 80%% approvals, got %d/%d", ok, runs)
	}
}

func TestProcessSuccessCompletesRide(t *testing.T) {
	rec := &events.Recorder{}
	alice, bob, r := acceptedRide(t, rec)
	proc := &fixedProcessor{}
	s := &Service{Processor: proc, Dispatch: dispatch.NewDispatcher(rec), Events: rec}

	tk, err := s.Process(context.Background(), alice, r, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	got, err := tk.Wait(context.Background())
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	snap := got.Snapshot()
	if snap.Status != models.StatusCompleted || snap.Tip != 10 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !bob.Available() {
		t.Fatalf("driver should be free after payment")
	}
	if len(proc.charges) != 1 || proc.charges[0].Amount != 40 || proc.charges[0].PaymentDetails != "Visa" {
		t.Fatalf("unexpected charges %+v", proc.charges)
	}
	sent := rec.Filter(events.NotificationSent, alice.ID())
	if len(sent) != 2 || sent[0].Attrs["kind"] != string(dispatch.KindCompleted) {
		t.Fatalf("expected completed notification with tip line, got %+v", sent)
	}
	if r.ObserverCount() != 0 {
		t.Fatalf("observers must be cleared")
	}
}

func TestProcessFailureLeavesRideUntouched(t *testing.T) {
	rec := &events.Recorder{}
	alice, bob, r := acceptedRide(t, rec)
	s := &Service{Processor: &fixedProcessor{err: &models.PaymentFailure{RideID: r.ID(), Reason: "payment declined"}}, Events: rec}

	tk, err := s.Process(context.Background(), alice, r, 5)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	_, err = tk.Wait(context.Background())
	var pf *models.PaymentFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected PaymentFailure, got %v", err)
	}
	snap := r.Snapshot()
	if snap.Status != models.StatusActive || snap.Tip != 0 || bob.Available() {
		t.Fatalf("failed payment must not mutate the ride: %+v", snap)
	}
	if n := len(rec.Filter(events.PaymentFailed, alice.ID())); n != 1 {
		t.Fatalf("expected payment failure event, got %d", n)
	}
}

func TestProcessWrapsNonPaymentErrors(t *testing.T) {
	alice, _, r := acceptedRide(t, events.Discard)
	s := &Service{Processor: &fixedProcessor{err: context.DeadlineExceeded}}
	tk, _ := s.Process(context.Background(), alice, r, 0)
	_, err := tk.Wait(context.Background())
	var pf *models.PaymentFailure
	if !errors.As(err, &pf) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
}

func TestProcessValidatesSynchronously(t *testing.T) {
	alice, _, r := acceptedRide(t, events.Discard)
	s := &Service{Processor: &fixedProcessor{}}
	var ve *models.ValidationError

	if _, err := s.Process(context.Background(), alice, r, -1); !errors.As(err, &ve) {
		t.Fatalf("expected tip validation error, got %v", err)
	}
	if _, err := s.Process(context.Background(), participant.NewUser("Mallory", "Visa"), r, 0); !errors.As(err, &ve) {
		t.Fatalf("expected requester validation error, got %v", err)
	}

	pending := alice.RequestRide(models.Location{}, models.Location{}, nil)
	if _, err := s.Process(context.Background(), alice, pending, 0); !errors.Is(err, ride.ErrInvalidTransition) {
		t.Fatalf("expected pending ride rejected, got %v", err)
	}
	_ = r.Complete()
	if _, err := s.Process(context.Background(), alice, r, 0); !errors.Is(err, ride.ErrRideFinished) {
		t.Fatalf("expected finished ride rejected, got %v", err)
	}
}

type gatedProcessor struct {
	gate  chan struct{}
	mu    sync.Mutex
	calls int
	err   error
}

func (g *gatedProcessor) Collect(ctx context.Context, c Charge) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	<-g.gate
	return g.err
}

func TestConcurrentPayChargesOnce(t *testing.T) {
	alice, _, r := acceptedRide(t, events.Discard)
	proc := &gatedProcessor{gate: make(chan struct{})}
	s := &Service{Processor: proc}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	tasks := make(chan *task.Task[*ride.Ride], attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := s.Process(context.Background(), alice, r, 5)
			if err == nil {
				tasks <- tk
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	close(tasks)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		if !errors.Is(err, ride.ErrPaymentInProgress) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly 1 payment in flight, got %d", accepted)
	}

	close(proc.gate)
	for tk := range tasks {
		if _, err := tk.Wait(context.Background()); err != nil {
			t.Fatalf("payment: %v", err)
		}
	}
	if proc.calls != 1 {
		t.Fatalf("expected one charge, got %d", proc.calls)
	}
	if r.Status() != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Status())
	}
}

func TestDeclinedPaymentCanBeRetried(t *testing.T) {
	alice, _, r := acceptedRide(t, events.Discard)
	proc := &fixedProcessor{err: &models.PaymentFailure{RideID: r.ID(), Reason: "payment declined"}}
	s := &Service{Processor: proc}

	tk, err := s.Process(context.Background(), alice, r, 0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := tk.Wait(context.Background()); err == nil {
		t.Fatalf("expected decline")
	}

	proc.err = nil
	tk, err = s.Process(context.Background(), alice, r, 0)
	if err != nil {
		t.Fatalf("retry after decline should be accepted: %v", err)
	}
	if _, err := tk.Wait(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(proc.charges) != 2 || r.Status() != models.StatusCompleted {
		t.Fatalf("expected two charges and a completed ride, got %d %s", len(proc.charges), r.Status())
	}
}
