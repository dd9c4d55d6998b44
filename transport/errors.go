package transport

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a host's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError records an upstream response status against the circuit
// breaker. The response itself is still handed back to the caller.
type StatusError struct {
	Host       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d", e.Host, e.StatusCode)
}
