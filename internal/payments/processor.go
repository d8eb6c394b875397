package payments

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/task"
)

// Charge is what a processor is asked to collect for a ride.
type Charge struct {
	Ride           ride.Snapshot
	PaymentDetails string
	Amount         float64
}

// Processor collects a charge. A declined charge is reported as
// *models.PaymentFailure.
type Processor interface {
	Collect(ctx context.Context, c Charge) error
}

// Simulator approves a charge with probability SuccessRate after Delay.
type Simulator struct {
	SuccessRate float64
	Delay       time.Duration
	Rand        func() float64 // defaults to math/rand/v2
}

func NewSimulator(successRate float64, delay time.Duration) *Simulator {
	return &Simulator{SuccessRate: successRate, Delay: delay}
}

func (s *Simulator) Collect(ctx context.Context, c Charge) error {
	if err := task.Sleep(ctx, s.Delay); err != nil {
		return err
	}
	draw := rand.Float64
	if s.Rand != nil {
		draw = s.Rand
	}
	if draw() < s.SuccessRate {
		return nil
	}
	return &models.PaymentFailure{RideID: c.Ride.ID, Reason: "payment declined"}
}
