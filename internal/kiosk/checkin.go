package kiosk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"face-checkin-go/internal/announce"
	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/history"

	log "github.com/sirupsen/logrus"
)

// User-visible messages of the check-in flow.
const (
	MsgRequestInvalid    = "request invalid"
	MsgConnectionError   = "connection error, please try again"
	MsgNoFaceDetected    = "no face detected"
	MsgCameraUnavailable = "camera unavailable"
	MsgInvalidImage      = "invalid image file"
	MsgNoFaceInStill     = "no face detected in the uploaded image"
)

// matchMessage formats the success message for a confident match.
func matchMessage(cust *backend.Customer) string {
	return fmt.Sprintf("Welcome, %s! Check-in confirmed (distance %.2f).", cust.Name, cust.Distance)
}

// SubmitDescriptor submits the current descriptor buffer for check-in.
// Precondition: a non-empty descriptor buffer; otherwise it fails immediately
// with ErrNoFaceDetected and no network call is made.
func (c *Controller) SubmitDescriptor(ctx context.Context) error {
	c.mu.Lock()
	if c.checkin.State == StateInFlight {
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	if len(c.descriptor) == 0 {
		c.checkin = Lifecycle{State: StateFailed, Message: MsgNoFaceDetected}
		c.message = MsgNoFaceDetected
		c.valid = false
		c.emitLocked(EventCheckInFailed)
		c.mu.Unlock()
		return ErrNoFaceDetected
	}
	descriptor := append([]float32(nil), c.descriptor...)
	gen := c.beginCheckInLocked()
	c.mu.Unlock()

	var (
		verdict *backend.Verdict
		err     error
	)
	// The deferred settle clears the in-flight flag and resumes the
	// scheduler on every exit path, panics included.
	defer func() { c.settleCheckIn(gen, verdict, err) }()
	verdict, err = c.backend.CheckInDescriptor(ctx, descriptor)
	return err
}

// SubmitStill submits the loaded still image for check-in. When a descriptor
// was derived from the image it is submitted directly; otherwise the whole
// image goes to the backend for server-side detection.
func (c *Controller) SubmitStill(ctx context.Context) error {
	c.mu.Lock()
	if c.checkin.State == StateInFlight {
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	if len(c.still) == 0 {
		c.checkin = Lifecycle{State: StateFailed, Message: MsgNoFaceDetected}
		c.message = MsgNoFaceDetected
		c.valid = false
		c.emitLocked(EventCheckInFailed)
		c.mu.Unlock()
		return ErrNoStillImage
	}
	descriptor := append([]float32(nil), c.descriptor...)
	still := c.still
	gen := c.beginCheckInLocked()
	c.mu.Unlock()

	var (
		verdict *backend.Verdict
		err     error
	)
	defer func() { c.settleCheckIn(gen, verdict, err) }()
	if len(descriptor) > 0 {
		verdict, err = c.backend.CheckInDescriptor(ctx, descriptor)
	} else {
		verdict, err = c.backend.CheckInImage(ctx, still)
	}
	return err
}

// beginCheckInLocked marks the check-in lifecycle in flight and pauses the
// detection loop. The pending trigger is consumed: arming again requires a
// fresh empty-to-non-empty transition. Caller must hold c.mu.
func (c *Controller) beginCheckInLocked() uint64 {
	c.cancelTriggerLocked(false)
	c.checkin = Lifecycle{State: StateInFlight}
	c.paused = true
	c.emitLocked(EventCheckInStarted)
	return c.generation
}

// settleCheckIn folds the outcome of a submission back into state. The
// in-flight flag and the scheduler pause are cleared unconditionally; the
// user-visible result is applied only if the session generation still
// matches (a mode switch in the meantime discards it).
func (c *Controller) settleCheckIn(gen uint64, verdict *backend.Verdict, err error) {
	outcome, msg, cust := classifyVerdict(verdict, err)
	success := outcome == history.OutcomeMatched

	c.mu.Lock()
	c.paused = false
	relevant := gen == c.generation
	mode := c.mode

	if relevant {
		if success {
			c.checkin = Lifecycle{State: StateSucceeded, Message: msg}
			// A successful submission consumes the session's descriptor.
			c.descriptor = nil
			c.lastDet = nil
		} else {
			c.checkin = Lifecycle{State: StateFailed, Message: msg}
		}
		c.message = msg
		c.valid = success
		switch outcome {
		case history.OutcomeMatched:
			c.emitLocked(EventCheckInMatched)
		case history.OutcomeRejected:
			c.emitLocked(EventCheckInRejected)
		default:
			c.emitLocked(EventCheckInFailed)
		}
	} else {
		// The mode changed while the request was in flight. No user-visible
		// state is touched beyond returning the lifecycle to idle.
		c.checkin = Lifecycle{State: StateIdle}
		log.WithFields(logFields).Debugf("Discarding stale check-in result (generation %d, current %d)", gen, c.generation)
	}
	c.mu.Unlock()

	c.recordAttempt(history.KindCheckIn, mode, outcome, msg, cust)
}

// classifyVerdict maps a backend answer onto the error taxonomy: a match, a
// server-explained rejection, or a transport failure with no server message.
func classifyVerdict(verdict *backend.Verdict, err error) (outcome, msg string, cust *backend.Customer) {
	switch {
	case err != nil || verdict == nil:
		// Covers *backend.TransportError and anything else without a
		// server verdict; no server message is available.
		return history.OutcomeTransport, MsgConnectionError, nil
	case verdict.Success && verdict.Customer != nil:
		return history.OutcomeMatched, matchMessage(verdict.Customer), verdict.Customer
	case verdict.Success:
		// Defensive: a success without identity payload should not happen
		// per the backend contract.
		if verdict.Message != "" {
			return history.OutcomeMatched, verdict.Message, nil
		}
		return history.OutcomeMatched, "check-in confirmed", nil
	default:
		if verdict.Message != "" {
			return history.OutcomeRejected, verdict.Message, nil
		}
		return history.OutcomeRejected, MsgRequestInvalid, nil
	}
}

// recordAttempt writes the attempt to the local history log and announces it
// over MQTT. Both are best-effort collaborators; failures are logged only.
func (c *Controller) recordAttempt(kind string, mode Mode, outcome, msg string, cust *backend.Customer) {
	now := time.Now()

	if c.history != nil {
		attempt := &history.Attempt{
			Kind:    kind,
			Mode:    mode.String(),
			Outcome: outcome,
			Message: msg,
		}
		if cust != nil {
			attempt.Distance = &cust.Distance
			if payload, err := json.Marshal(cust); err == nil {
				attempt.Customer = payload
			}
		}
		if err := c.history.Record(attempt); err != nil {
			log.WithFields(logFields).Warnf("Failed to record attempt: %v", err)
		}
	}

	if c.announcer != nil {
		ev := announce.Event{
			Kind:      kind,
			Outcome:   outcome,
			Message:   msg,
			Timestamp: now,
		}
		if cust != nil {
			ev.Customer = cust.Name
			ev.Distance = cust.Distance
		}
		c.announcer.Announce(ev)
	}
}
