package storage

import (
	"errors"
	"sync"

	"github.com/example/ride-lifecycle/internal/ride"
)

var ErrDuplicateRide = errors.New("ride already stored")

// RideStore keeps the rides a registry knows about.
type RideStore interface {
	SaveRide(r *ride.Ride) error
	Get(id string) (*ride.Ride, bool)
	List() []*ride.Ride
}

// MemoryStore keeps rides in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*ride.Ride
	order []*ride.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*ride.Ride)}
}

func (m *MemoryStore) SaveRide(r *ride.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rides[r.ID()]; ok {
		if existing == r {
			return nil
		}
		return ErrDuplicateRide
	}
	m.rides[r.ID()] = r
	m.order = append(m.order, r)
	return nil
}

func (m *MemoryStore) Get(id string) (*ride.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

// List returns a copy, so callers may range over it while rides are added.
func (m *MemoryStore) List() []*ride.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ride.Ride, len(m.order))
	copy(out, m.order)
	return out
}
