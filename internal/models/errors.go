package models

import "fmt"

// ValidationError reports input that breaks a value bound, such as a rating
// score outside [1,5] or a negative tip.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnavailableDriverError is returned when a driver cannot take a ride,
// either because it is already busy or because a VIP precondition failed.
type UnavailableDriverError struct {
	DriverID string
	Reason   string
}

func (e *UnavailableDriverError) Error() string {
	return fmt.Sprintf("driver %s unavailable: %s", e.DriverID, e.Reason)
}

type NoDriverFoundError struct {
	Reason string
}

func (e *NoDriverFoundError) Error() string { return e.Reason }

var (
	ErrNoDriversAvailable = &NoDriverFoundError{Reason: "no drivers available"}
	ErrNoNearbyDrivers    = &NoDriverFoundError{Reason: "no nearby drivers found"}
)

type PaymentFailure struct {
	RideID string
	Reason string
}

func (e *PaymentFailure) Error() string {
	return fmt.Sprintf("payment failed for ride %s: %s", e.RideID, e.Reason)
}

const (
	ReasonBusy        = "already on a ride"
	ReasonVIPInactive = "not currently available for VIP rides"
	ReasonLowRating   = "only accepts rides from highly-rated users"
)
