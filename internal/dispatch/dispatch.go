package dispatch

import (
	"fmt"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/ride"
)

type Kind string

const (
	KindActive    Kind = "active"
	KindCompleted Kind = "completed"
	KindPending   Kind = "pending"
)

// Notification is a requester-facing summary of a ride.
type Notification interface {
	Kind() Kind
	Ride() ride.Snapshot
	Lines() []string
}

type ActiveRide struct{ snap ride.Snapshot }

func (n ActiveRide) Kind() Kind          { return KindActive }
func (n ActiveRide) Ride() ride.Snapshot { return n.snap }
func (n ActiveRide) Lines() []string {
	return []string{fmt.Sprintf("Active ride notification for %s", n.snap.RequesterName)}
}

type PendingRide struct{ snap ride.Snapshot }

func (n PendingRide) Kind() Kind          { return KindPending }
func (n PendingRide) Ride() ride.Snapshot { return n.snap }
func (n PendingRide) Lines() []string {
	return []string{fmt.Sprintf("Pending ride notification for %s", n.snap.RequesterName)}
}

type CompletedRide struct{ snap ride.Snapshot }

func (n CompletedRide) Kind() Kind          { return KindCompleted }
func (n CompletedRide) Ride() ride.Snapshot { return n.snap }

func (n CompletedRide) Tipped() bool { return n.snap.Tip > 0 }

func (n CompletedRide) Lines() []string {
	s := n.snap
	lines := []string{fmt.Sprintf("Ride completed notification for %s by %s with %s. Fare: $%.2f", s.RequesterName, s.DriverName, s.DriverCar, s.Fare)}
	if n.Tipped() {
		lines = append(lines, fmt.Sprintf("Tip for rider: $%.2f", s.Tip))
	} else {
		lines = append(lines, fmt.Sprintf("%s didn't tip %s for the ride", s.RequesterName, s.DriverName))
	}
	return lines
}

// NewNotification picks a variant from the ride status alone. Every status
// other than active and completed maps to the pending variant, so a ride
// that is arriving_soon still reads as pending here.
func NewNotification(s ride.Snapshot) Notification {
	switch s.Status {
	case models.StatusActive:
		return ActiveRide{snap: s}
	case models.StatusCompleted:
		return CompletedRide{snap: s}
	default:
		return PendingRide{snap: s}
	}
}

// Dispatcher sends notifications out on the event stream.
type Dispatcher struct {
	Events events.Publisher
}

func NewDispatcher(pub events.Publisher) *Dispatcher {
	if pub == nil {
		pub = events.Discard
	}
	return &Dispatcher{Events: pub}
}

// Send publishes one event per line of n, addressed to the requester.
func (d *Dispatcher) Send(n Notification) {
	s := n.Ride()
	observability.NotificationsTotal.WithLabelValues(string(n.Kind())).Inc()
	for _, line := range n.Lines() {
		d.Events.Publish(events.Event{
			Type:          events.NotificationSent,
			RideID:        s.ID,
			ParticipantID: s.RequesterID,
			Status:        s.Status,
			Message:       line,
			Attrs:         map[string]any{"kind": string(n.Kind())},
		})
	}
}

// Notify builds the notification for the ride's current state and sends it.
func (d *Dispatcher) Notify(s ride.Snapshot) Notification {
	n := NewNotification(s)
	d.Send(n)
	return n
}
