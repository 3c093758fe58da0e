package kiosk

import (
	"fmt"

	"face-checkin-go/internal/detect"
)

// Mode selects the active capture source. Exactly one is active at any time.
type Mode int

const (
	// ModeLive captures from a continuously streaming camera feed.
	ModeLive Mode = iota
	// ModeStill captures from a single decoded uploaded image.
	ModeStill
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeStill:
		return "still"
	default:
		return "unknown"
	}
}

// ParseMode converts a config or API string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "live":
		return ModeLive, nil
	case "still":
		return ModeStill, nil
	default:
		return ModeLive, fmt.Errorf("unknown capture mode %q", s)
	}
}

// LifecycleState is the state of one independent request lifecycle.
type LifecycleState string

const (
	StateIdle      LifecycleState = "idle"
	StateInFlight  LifecycleState = "in_flight"
	StateSucceeded LifecycleState = "succeeded"
	StateFailed    LifecycleState = "failed"
)

// Lifecycle tracks one request flow. The check-in and registration flows each
// own an independent instance; at most one request per instance is in flight.
type Lifecycle struct {
	State   LifecycleState `json:"state"`
	Message string         `json:"message,omitempty"`
}

// RegistrationForm holds the user-entered enrollment fields. The form is
// preserved across failed attempts so the user can correct and resubmit.
type RegistrationForm struct {
	Name  string
	Code  string
	Image []byte
}

// Status is a consistent snapshot of the kiosk state for rendering. It is the
// single state struct the UI consumes; no other state is user visible.
type Status struct {
	Mode           string            `json:"mode"`
	Message        string            `json:"message"`
	Valid          bool              `json:"valid"`
	Polling        bool              `json:"polling"`
	Paused         bool              `json:"paused"`
	HasDescriptor  bool              `json:"has_descriptor"`
	TriggerPending bool              `json:"trigger_pending"`
	Detection      *detect.Detection `json:"detection,omitempty"`
	CheckIn        Lifecycle         `json:"checkin"`
	Registration   Lifecycle         `json:"registration"`
}
