package shipping

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRatesAvailable is returned when the carrier offers no product for the route.
	ErrNoRatesAvailable = errors.New("shipping: no rates available")
	// ErrCarrierUnavailable wraps transport failures, non-2xx responses and undecodable bodies.
	ErrCarrierUnavailable = errors.New("shipping: carrier unavailable")
	// ErrCarrierNotConfigured indicates missing credentials, account or endpoint.
	ErrCarrierNotConfigured = errors.New("shipping: carrier not configured")
)

// CarrierError carries the upstream status and detail for a failed carrier call. It unwraps to
// ErrCarrierUnavailable.
type CarrierError struct {
	Operation string
	Status    int
	Detail    string
	Err       error
}

func (e *CarrierError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("shipping: %s: carrier status %d: %s", e.Operation, e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("shipping: %s: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("shipping: %s: %s", e.Operation, e.Detail)
	}
}

func (e *CarrierError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCarrierUnavailable, e.Err}
	}
	return []error{ErrCarrierUnavailable}
}
