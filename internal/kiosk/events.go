package kiosk

import (
	"sync"
	"time"

	"face-checkin-go/internal/detect"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventType labels a state transition of the kiosk core.
type EventType string

const (
	EventModeChanged           EventType = "mode_changed"
	EventCaptureFailed         EventType = "capture_failed"
	EventDecodeFailed          EventType = "decode_failed"
	EventFaceDetected          EventType = "face_detected"
	EventFaceLost              EventType = "face_lost"
	EventStillLoaded           EventType = "still_loaded"
	EventTriggerArmed          EventType = "trigger_armed"
	EventTriggerCancelled      EventType = "trigger_cancelled"
	EventCheckInStarted        EventType = "checkin_started"
	EventCheckInMatched        EventType = "checkin_matched"
	EventCheckInRejected       EventType = "checkin_rejected"
	EventCheckInFailed         EventType = "checkin_failed"
	EventRegistrationStarted   EventType = "registration_started"
	EventRegistrationSucceeded EventType = "registration_succeeded"
	EventRegistrationFailed    EventType = "registration_failed"
)

// Event is one state transition emitted on the hub. The UI renders the kiosk
// purely from this stream plus Status snapshots; it never pokes at internals.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Mode      string            `json:"mode"`
	Message   string            `json:"message,omitempty"`
	Valid     bool              `json:"valid"`
	Detection *detect.Detection `json:"detection,omitempty"`
	At        time.Time         `json:"at"`
}

// Hub fans state events out to subscribers (SSE handlers, tests).
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers an event to all subscribers. Slow subscribers with a full
// channel miss the event rather than blocking the core.
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn("State event subscriber channel full, dropping event")
		}
	}
	h.mu.Unlock()
}
