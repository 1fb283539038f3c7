package api

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteRejected is wrapped by every failed write.
	ErrWriteRejected = errors.New("write rejected")
	// ErrNoLocation means the vehicle has never reported a position.
	ErrNoLocation = errors.New("no location data")
	// ErrUnauthorized is wrapped when the backend answers 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	// Message is the backend's {"error": ...} text when present.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == 401
}
