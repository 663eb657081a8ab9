package remote

import (
	"errors"
	"fmt"
)

// NetworkError means the request never reached the remote service:
// dial failure, DNS failure, timeout, connection reset mid-flight.
// These are the only failures that may trigger the offline fallback.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a response the remote service produced after it
// received the request: a business rejection or a server-side fault.
// It is authoritative and must never be rerouted to the outbox.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote service: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("remote service: status %d", e.StatusCode)
}

// IsNetwork reports whether err is network-class.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsService reports whether err is a service-side rejection.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
