package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

type Type string

const (
	RideStatusChanged   Type = "ride.status_changed"
	ParticipantNotified Type = "participant.notified"
	NotificationSent    Type = "notification.sent"
	RatingSubmitted     Type = "rating.submitted"
	FareDiscounted      Type = "fare.discounted"
	DriverAccepted      Type = "ride.accepted"
	AcceptRefused       Type = "ride.accept_refused"
	TipRecorded         Type = "tip.recorded"
	PaymentFailed       Type = "payment.failed"
)

// Event is one line of the observable side-effect stream. Message carries
// the human readable text; Attrs carries anything a machine consumer needs.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	RideID        string         `json:"ride_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Status        models.Status  `json:"status,omitempty"`
	Message       string         `json:"message"`
	Attrs         map[string]any `json:"attrs,omitempty"`
	At            time.Time      `json:"at"`
}

type Publisher interface {
	Publish(e Event)
}

type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Sink receives every event published on a Bus, in publish order.
type Sink interface {
	Write(e Event) error
}

type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	queued []*queuedSink
	subs   map[int]chan Event
	nextID int
	closed bool
	logger *slog.Logger
	now    func() time.Time
}

// queuedSink feeds one slow sink from its own goroutine.
type queuedSink struct {
	sink Sink
	ch   chan Event
	done chan struct{}
}

func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{sinks: sinks, subs: make(map[int]chan Event), logger: logger, now: time.Now}
}

func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// AddQueuedSink registers s behind a buffered queue drained by its own
// goroutine, so Publish never waits on it. Events arriving while the queue
// is full are dropped. Use it for sinks that do network I/O.
func (b *Bus) AddQueuedSink(s Sink, buffer int) {
	if buffer <= 0 {
		buffer = 256
	}
	q := &queuedSink{sink: s, ch: make(chan Event, buffer), done: make(chan struct{})}
	go func() {
		defer close(q.done)
		for e := range q.ch {
			if err := q.sink.Write(e); err != nil {
				b.logger.Warn("event sink write failed", "type", e.Type, "ride_id", e.RideID, "error", err)
			}
		}
	}()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(q.ch)
		return
	}
	b.queued = append(b.queued, q)
}

// Close stops the queued sinks after they drain what they already hold.
// Publishing after Close reaches only the synchronous sinks and subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	queued := b.queued
	b.queued = nil
	for _, q := range queued {
		close(q.ch)
	}
	b.mu.Unlock()
	for _, q := range queued {
		<-q.done
	}
}

// Publish stamps the event and hands it to every synchronous sink, then to
// the queued sinks and every subscriber. A queue or subscriber whose buffer
// is full misses the event.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		if err := s.Write(e); err != nil {
			b.logger.Warn("event sink write failed", "type", e.Type, "ride_id", e.RideID, "error", err)
		}
	}
	for _, q := range b.queued {
		select {
		case q.ch <- e:
		default:
			observability.EventsDropped.Inc()
			b.logger.Warn("event sink queue full", "type", e.Type, "ride_id", e.RideID)
		}
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			observability.EventsDropped.Inc()
		}
	}
}

// Subscribe returns a channel of future events and a func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// LogSink writes events through slog.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Write(e Event) error {
	args := []any{"event_id", e.ID, "type", e.Type}
	if e.RideID != "" {
		args = append(args, "ride_id", e.RideID)
	}
	if e.ParticipantID != "" {
		args = append(args, "participant_id", e.ParticipantID)
	}
	if e.Status != "" {
		args = append(args, "status", e.Status)
	}
	for k, v := range e.Attrs {
		args = append(args, k, v)
	}
	l.Logger.Info(e.Message, args...)
	return nil
}

// Recorder keeps every event in memory. Handy for harnesses and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Write(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Publish(e Event) { _ = r.Write(e) }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events matching typ and, if non-empty,
// participantID.
func (r *Recorder) Filter(typ Type, participantID string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type != typ {
			continue
		}
		if participantID != "" && e.ParticipantID != participantID {
			continue
		}
		out = append(out, e)
	}
	return out
}
