package station

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailure marks a single failed association attempt.
	ErrConnectFailure = errors.New("connect to upstream network failed")
	// ErrRetryExhausted marks the end of automatic retries for a session.
	ErrRetryExhausted = errors.New("station retries exhausted")
)

// ConnectError describes one failed attempt.
type ConnectError struct {
	Reason     string
	Attempt    int
	MaxRetries int
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s (retry %d/%d): %s", ErrConnectFailure, e.Attempt, e.MaxRetries, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return ErrConnectFailure
}
