package participant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/ride"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleDriver Role = "driver"
)

type Option func(*base)

func WithID(id string) Option { return func(b *base) { b.id = id } }

func WithPublisher(p events.Publisher) Option { return func(b *base) { b.pub = p } }

func WithClock(now func() time.Time) Option { return func(b *base) { b.now = now } }

// base is the record shared by users and drivers: identity, the ratings
// others gave them, and where their notifications go.
type base struct {
	id   string
	name string
	role Role

	mu      sync.Mutex
	ratings []models.Rating

	pub events.Publisher
	now func() time.Time
}

func (b *base) init(name string, role Role, opts []Option) {
	b.name, b.role = name, role
	b.pub, b.now = events.Discard, time.Now
	for _, o := range opts {
		o(b)
	}
	if b.id == "" {
		b.id = uuid.NewString()
	}
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }
func (b *base) Role() Role   { return b.role }

func (b *base) Ratings() []models.Rating {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Rating, len(b.ratings))
	copy(out, b.ratings)
	return out
}

// AverageRating reports ok=false while nobody has rated this participant.
func (b *base) AverageRating() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ratings) == 0 {
		return 0, false
	}
	total := 0
	for _, r := range b.ratings {
		total += r.Score
	}
	return float64(total) / float64(len(b.ratings)), true
}

// OnUpdate turns a ride update into a notification line for this
// participant.
func (b *base) OnUpdate(s ride.Snapshot) {
	var prefix string
	switch b.role {
	case RoleDriver:
		prefix = "Driver notification"
	default:
		prefix = "User notification"
	}
	b.pub.Publish(events.Event{
		Type:          events.ParticipantNotified,
		RideID:        s.ID,
		ParticipantID: b.id,
		Status:        s.Status,
		Message:       fmt.Sprintf("%s: %s received a ride update: status is now %q", prefix, b.name, s.Status),
		Attrs:         map[string]any{"role": string(b.role)},
	})
}

// rate validates the score, files the rating under target and reports it.
func (b *base) rate(target *base, score int, feedback string) (models.Rating, error) {
	r, err := models.NewRating(score, feedback, b.now())
	if err != nil {
		return models.Rating{}, err
	}
	target.mu.Lock()
	target.ratings = append(target.ratings, r)
	target.mu.Unlock()
	observability.RatingsTotal.WithLabelValues(string(target.role)).Inc()
	b.pub.Publish(events.Event{
		Type:          events.RatingSubmitted,
		ParticipantID: b.id,
		Message:       fmt.Sprintf("%s rated %s %s with a score of %d/5", b.name, target.role, target.name, score),
		Attrs:         map[string]any{"target_id": target.id, "score": score, "feedback": feedback},
	})
	return r, nil
}
