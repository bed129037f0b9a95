package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied an empty id or a negative step.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorCorrupt indicates the stored counter document could not be decoded.
	CounterErrorCorrupt CounterErrorCode = "counter_corrupt"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	CounterID string
	Code      CounterErrorCode
	Message   string
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.CounterID != "" {
		return fmt.Sprintf("counter %s: %s", e.CounterID, e.Message)
	}
	return e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(counterID string, code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{CounterID: counterID, Code: code, Message: message, Err: err}
}

// ValidateCounterArgs applies the argument rules shared by every CounterRepository and returns
// the effective step.
func ValidateCounterArgs(counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, NewCounterError("", CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, NewCounterError(counterID, CounterErrorInvalidInput, fmt.Sprintf("step must not be negative, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}
	return step, nil
}
