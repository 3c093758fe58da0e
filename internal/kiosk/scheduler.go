package kiosk

import (
	"context"
	"errors"
	"time"

	"face-checkin-go/internal/capture"
	"face-checkin-go/internal/detect"

	log "github.com/sirupsen/logrus"
)

// Upper bound for a single frame-grab plus detection attempt. Attempts
// slower than this are abandoned; the loop simply tries again on the next
// tick.
const attemptTimeout = 10 * time.Second

// startPollingLocked starts the detection loop for the current generation.
// At most one polling session exists system-wide: any previous session is
// stopped first. Caller must hold c.mu.
func (c *Controller) startPollingLocked() {
	c.stopPollingLocked()

	stop := make(chan struct{})
	c.stopPoll = stop
	c.polling = true
	c.paused = false

	gen := c.generation
	src := c.source
	go c.pollLoop(gen, src, stop)
	log.WithFields(logFields).Debugf("Polling session started (generation %d)", gen)
}

// stopPollingLocked stops the polling session. Safe to call when no session
// is active and safe to call multiple times. Results of an attempt still in
// flight are discarded via the generation guard, which callers bump on every
// session change. Caller must hold c.mu.
func (c *Controller) stopPollingLocked() {
	if !c.polling {
		return
	}
	close(c.stopPoll)
	c.stopPoll = nil
	c.polling = false
	log.WithFields(logFields).Debug("Polling session stopped")
}

// pollLoop drives periodic detection attempts until stopped. The attempt
// runs inline on this goroutine, so ticks elapsing during a slow attempt are
// dropped by the ticker: attempts are skipped, never queued, and at most one
// is in flight at any time.
func (c *Controller) pollLoop(gen uint64, src capture.FrameSource, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.pollOnce(gen, src)
		}
	}
}

// pollOnce performs one detection attempt against the current live frame and
// applies the result if the session is still current.
func (c *Controller) pollOnce(gen uint64, src capture.FrameSource) {
	c.mu.Lock()
	if gen != c.generation || c.paused {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	frame, err := src.Frame(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrCaptureUnavailable) {
			c.captureFailed(gen, err)
		} else {
			log.WithFields(logFields).Debugf("Frame grab failed: %v", err)
		}
		return
	}

	det, err := c.engine.Detect(ctx, frame)
	if err != nil {
		// Transient engine trouble. The attempt did not complete, so the
		// previous detection state stands and the loop tries again.
		log.WithFields(logFields).Debugf("Detection attempt failed: %v", err)
		return
	}

	c.applyDetection(gen, det)
}

// applyDetection folds a completed attempt into shared state. Positive
// attempts replace the detection result and derive the descriptor buffer;
// negative attempts clear both and cancel any pending auto-submit trigger.
func (c *Controller) applyDetection(gen uint64, det *detect.Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// Late completion from a stopped session; discard.
		return
	}

	if det != nil && len(det.Descriptor) > 0 {
		hadDescriptor := len(c.descriptor) > 0
		c.lastDet = det
		c.descriptor = det.Descriptor
		if !hadDescriptor {
			c.emitLocked(EventFaceDetected)
			c.armTriggerLocked()
		}
		return
	}

	if c.lastDet != nil || len(c.descriptor) > 0 {
		c.lastDet = nil
		c.descriptor = nil
		c.emitLocked(EventFaceLost)
	}
	// Cancel-on-negative: a pending trigger never fires against a
	// descriptor that has since gone stale.
	c.cancelTriggerLocked(true)
}

// captureFailed handles a terminal camera failure during live polling.
func (c *Controller) captureFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	log.WithFields(logFields).Errorf("Capture source failed, stopping polling: %v", err)
	c.generation++
	c.cancelTriggerLocked(false)
	c.stopPollingLocked()
	c.releaseSourceLocked()
	c.lastDet = nil
	c.descriptor = nil
	c.message = MsgCameraUnavailable
	c.valid = false
	c.emitLocked(EventCaptureFailed)
}
