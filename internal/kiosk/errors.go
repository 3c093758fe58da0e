package kiosk

import (
	"errors"
	"fmt"
)

// Local precondition failures. None of these cause a network call.
var (
	// ErrNoFaceDetected is returned when a check-in is submitted with an
	// empty descriptor buffer.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrRequestInFlight is returned when a lifecycle already has a request
	// in flight. Each lifecycle allows at most one.
	ErrRequestInFlight = errors.New("request already in flight")

	// ErrNoStillImage is returned when a still-mode check-in is submitted
	// before an image has been loaded.
	ErrNoStillImage = errors.New("no still image loaded")
)

// ValidationError reports missing required registration fields. It is raised
// locally, before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
