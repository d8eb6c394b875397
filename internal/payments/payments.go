package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/participant"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/task"
)

type Service struct {
	Processor Processor
	Dispatch  *dispatch.Dispatcher
	Events    events.Publisher
	Logger    *slog.Logger
}

// Process checks the request synchronously and then collects fare plus tip
// in the background. On approval the tip is recorded, the ride completed
// and the completion notification sent. On decline the ride is left as it
// was and the task fails with the processor's error; there is no retry.
// One attempt per ride runs at a time: a call made while another is in
// flight fails with ride.ErrPaymentInProgress.
func (s *Service) Process(ctx context.Context, user *participant.User, r *ride.Ride, tip float64) (*task.Task[*ride.Ride], error) {
	if tip < 0 {
		return nil, &models.ValidationError{Field: "tip", Reason: "tip must not be negative"}
	}
	if r.Requester().ID() != user.ID() {
		return nil, &models.ValidationError{Field: "user", Reason: "only the requester pays for a ride"}
	}
	if err := r.BeginPayment(); err != nil {
		return nil, err
	}
	snap := r.Snapshot()

	return task.Go(ctx, func(ctx context.Context) (*ride.Ride, error) {
		defer r.EndPayment()
		log := s.logger().With("ride_id", snap.ID, "user_id", user.ID())
		log.Info("processing payment", "from", snap.Pickup.Name, "to", snap.Dropoff.Name, "amount", snap.Fare+tip)

		err := s.Processor.Collect(ctx, Charge{Ride: snap, PaymentDetails: user.PaymentDetails(), Amount: snap.Fare + tip})
		if err != nil {
			observability.PaymentsTotal.WithLabelValues("failed").Inc()
			var pf *models.PaymentFailure
			if !errors.As(err, &pf) {
				pf = &models.PaymentFailure{RideID: snap.ID, Reason: err.Error()}
				err = fmt.Errorf("%w: %w", pf, err)
			}
			s.events().Publish(events.Event{
				Type:          events.PaymentFailed,
				RideID:        snap.ID,
				ParticipantID: user.ID(),
				Status:        snap.Status,
				Message:       "Payment failed",
				Attrs:         map[string]any{"reason": pf.Reason},
			})
			log.Error("error during payment processing", "error", err)
			return nil, err
		}
		observability.PaymentsTotal.WithLabelValues("succeeded").Inc()
		log.Info("payment successful")

		if err := r.RecordTip(tip); err != nil {
			log.Error("payment collected but tip not recorded", "error", err)
			return nil, err
		}
		if err := r.Complete(); err != nil {
			log.Error("payment collected but ride not completed", "error", err)
			return nil, err
		}
		if s.Dispatch != nil {
			s.Dispatch.Notify(r.Snapshot())
		}
		return r, nil
	}), nil
}

func (s *Service) events() events.Publisher {
	if s.Events == nil {
		return events.Discard
	}
	return s.Events
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
