package kiosk

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// pendingTrigger is the single outstanding auto-submit handle of a live
// session. The timer cannot always be stopped before it fires, so the fire
// path re-checks identity and state under the lock; a cancelled trigger that
// still fires finds itself replaced or stale and does nothing.
type pendingTrigger struct {
	timer *time.Timer
	gen   uint64
}

// armTriggerLocked arms the one-shot auto-submit trigger. Armed only on the
// empty-to-non-empty descriptor transition, and only while no check-in is in
// flight and no trigger is already pending. Caller must hold c.mu.
func (c *Controller) armTriggerLocked() {
	if c.trigger != nil || c.checkin.State == StateInFlight || c.mode != ModeLive {
		return
	}

	gen := c.generation
	t := &pendingTrigger{gen: gen}
	t.timer = time.AfterFunc(c.debounce, func() {
		c.fireTrigger(t)
	})
	c.trigger = t
	c.emitLocked(EventTriggerArmed)
	log.WithFields(logFields).Debugf("Auto-submit trigger armed for %v", c.debounce)
}

// cancelTriggerLocked cancels the pending trigger without firing it. Safe to
// call when none is pending. Caller must hold c.mu.
func (c *Controller) cancelTriggerLocked(emit bool) {
	if c.trigger == nil {
		return
	}
	c.trigger.timer.Stop()
	c.trigger = nil
	if emit {
		c.emitLocked(EventTriggerCancelled)
	}
	log.WithFields(logFields).Debug("Auto-submit trigger cancelled")
}

// fireTrigger runs when the debounce delay elapses. It submits the check-in
// exactly once, provided the trigger is still the pending one, the session
// has not moved on and no request is in flight.
func (c *Controller) fireTrigger(t *pendingTrigger) {
	c.mu.Lock()
	if c.trigger != t {
		// Cancelled or replaced after the timer fired; ignore.
		c.mu.Unlock()
		return
	}
	c.trigger = nil

	if t.gen != c.generation || c.mode != ModeLive ||
		c.checkin.State == StateInFlight || len(c.descriptor) == 0 {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	log.WithFields(logFields).Info("Auto-submit trigger fired, submitting check-in")
	if err := c.SubmitDescriptor(context.Background()); err != nil {
		log.WithFields(logFields).Warnf("Auto-submitted check-in failed: %v", err)
	}
}
