package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a named place. Name is free text ("Main St"); Coord is only
// meaningful when the caller knows it.
type Location struct {
	Name  string `json:"name,omitempty"`
	Coord Coord  `json:"coord"`
}

type Status string

const (
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusDriverAssigned Status = "driver_assigned"
	StatusArrivingSoon   Status = "arriving_soon"
	StatusArrived        Status = "arrived"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusPending:        0,
	StatusActive:         1,
	StatusDriverAssigned: 2,
	StatusArrivingSoon:   3,
	StatusArrived:        4,
	StatusInProgress:     5,
	StatusCompleted:      6,
}

// Rank orders the main lifecycle chain. Cancelled and unknown statuses
// report ok=false.
func (s Status) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Assigned reports whether a ride in this status must carry a driver.
func (s Status) Assigned() bool {
	r, ok := statusRank[s]
	return ok && r > 0
}

var statusMessages = map[Status]string{
	StatusPending:        "Searching for nearby drivers...",
	StatusActive:         "Driver accepted the ride",
	StatusDriverAssigned: "Driver assigned and en route",
	StatusArrivingSoon:   "Driver arriving in 2 minutes",
	StatusArrived:        "Driver has arrived at pickup location",
	StatusInProgress:     "Ride in progress",
	StatusCompleted:      "Ride completed",
	StatusCancelled:      "Ride cancelled",
}

// Message returns the human readable line for a status, or "" when the
// status is not mapped.
func (s Status) Message() string {
	return statusMessages[s]
}

// Rating is immutable once built; use NewRating.
type Rating struct {
	Score     int       `json:"score"`
	Feedback  string    `json:"feedback"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	MinScore = 1
	MaxScore = 5
)

func NewRating(score int, feedback string, at time.Time) (Rating, error) {
	if score < MinScore || score > MaxScore {
		return Rating{}, &ValidationError{Field: "score", Reason: "rating score must be between 1 and 5"}
	}
	return Rating{Score: score, Feedback: feedback, Timestamp: at}, nil
}
