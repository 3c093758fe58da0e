// Package kiosk contains the capture-and-detection core: the mode state
// machine, the detection polling loop, the auto-submit debouncer and the
// request lifecycles for check-in and registration.
//
// All shared state lives behind one mutex. Session-starting operations bump a
// generation counter; asynchronous completions compare their captured
// generation against the current one before applying results, so arbitrarily
// delayed completions cannot overwrite newer state.
package kiosk

import (
	"context"
	"sync"
	"time"

	"face-checkin-go/internal/announce"
	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/capture"
	"face-checkin-go/internal/config"
	"face-checkin-go/internal/detect"
	"face-checkin-go/internal/history"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "kiosk",
}

// Engine is the face detection capability the kiosk consumes. A nil
// Detection with a nil error means no face was found.
type Engine interface {
	Detect(ctx context.Context, jpegData []byte) (*detect.Detection, error)
}

// Backend is the remote check-in service the kiosk submits to.
type Backend interface {
	CheckInImage(ctx context.Context, jpegData []byte) (*backend.Verdict, error)
	CheckInDescriptor(ctx context.Context, descriptor []float32) (*backend.Verdict, error)
	Register(ctx context.Context, name, code string, jpegData []byte) (*backend.Verdict, error)
	RegisterDescriptor(ctx context.Context, name, code string, descriptor []float32) (*backend.Verdict, error)
}

// Options carries the optional collaborators of a Controller.
type Options struct {
	Hub        *Hub
	History    *history.Store
	Announcer  announce.Announcer
	OpenCamera func() (capture.FrameSource, error)
}

// Controller is the top-level state machine selecting between camera and file
// capture. It owns the polling session, the pending auto-submit trigger, the
// descriptor buffer and both request lifecycles.
type Controller struct {
	pollEvery    time.Duration
	debounce     time.Duration
	stillMaxEdge int

	engine    Engine
	backend   Backend
	openCam   func() (capture.FrameSource, error)
	hub       *Hub
	history   *history.Store
	announcer announce.Announcer

	mu         sync.Mutex
	mode       Mode
	generation uint64
	source     capture.FrameSource
	lastDet    *detect.Detection
	descriptor []float32
	still      []byte

	trigger *pendingTrigger

	polling  bool
	stopPoll chan struct{}
	paused   bool

	checkin      Lifecycle
	registration Lifecycle
	form         RegistrationForm

	message string
	valid   bool
}

// New creates a Controller. The initial mode is Still with nothing loaded;
// call SetMode to start capturing.
func New(cfg *config.Config, engine Engine, be Backend, opts Options) *Controller {
	c := &Controller{
		pollEvery:    time.Duration(cfg.Kiosk.PollIntervalMs) * time.Millisecond,
		debounce:     time.Duration(cfg.Kiosk.DebounceDelayMs) * time.Millisecond,
		stillMaxEdge: cfg.Capture.StillMaxEdge,
		engine:       engine,
		backend:      be,
		hub:          opts.Hub,
		history:      opts.History,
		announcer:    opts.Announcer,
		openCam:      opts.OpenCamera,
		mode:         ModeStill,
		checkin:      Lifecycle{State: StateIdle},
		registration: Lifecycle{State: StateIdle},
	}
	if c.hub == nil {
		c.hub = NewHub()
	}
	if c.openCam == nil {
		device := cfg.Capture.Device
		c.openCam = func() (capture.FrameSource, error) {
			return capture.OpenWebcam(device)
		}
	}
	return c
}

// Hub returns the state event hub of this controller.
func (c *Controller) Hub() *Hub {
	return c.hub
}

// SetMode transitions the kiosk into live or still capture. Every transition
// clears the descriptor buffer, cancels any pending auto-submit trigger and
// resets the user-visible message, regardless of direction.
//
// A check-in request in flight across the transition is not cancelled; its
// completion is discarded because the generation no longer matches.
func (c *Controller) SetMode(mode Mode) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.cancelTriggerLocked(false)
	c.stopPollingLocked()
	c.releaseSourceLocked()
	c.lastDet = nil
	c.descriptor = nil
	c.still = nil
	c.message = ""
	c.valid = false
	c.mode = mode
	c.emitLocked(EventModeChanged)
	log.WithFields(logFields).Infof("Capture mode set to %s", mode)

	if mode != ModeLive {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Camera acquisition can block; run it outside the lock.
	src, err := c.openCam()

	c.mu.Lock()
	if gen != c.generation {
		// A newer transition won the race; hand the device back.
		c.mu.Unlock()
		if err == nil {
			src.Close()
		}
		return nil
	}
	if err != nil {
		// Terminal for this mode: surfaced, never retried.
		c.message = MsgCameraUnavailable
		c.valid = false
		c.emitLocked(EventCaptureFailed)
		c.mu.Unlock()
		log.WithFields(logFields).Errorf("Camera acquisition failed: %v", err)
		return err
	}
	c.source = src
	c.startPollingLocked()
	c.mu.Unlock()
	return nil
}

// Mode returns the currently active capture mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LoadStill decodes uploaded image bytes, switches to still mode if needed
// and runs a single detection attempt against the decoded image.
func (c *Controller) LoadStill(ctx context.Context, data []byte) error {
	c.mu.Lock()
	needSwitch := c.mode != ModeStill
	c.mu.Unlock()
	if needSwitch {
		if err := c.SetMode(ModeStill); err != nil {
			return err
		}
	}

	jpegData, err := capture.DecodeStill(data, c.stillMaxEdge)
	if err != nil {
		c.mu.Lock()
		c.message = MsgInvalidImage
		c.valid = false
		c.emitLocked(EventDecodeFailed)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	// One detection attempt per loaded image. A failed or empty detection
	// keeps the image: the whole-image check-in path still works.
	det, derr := c.engine.Detect(ctx, jpegData)
	if derr != nil {
		log.WithFields(logFields).Warnf("Detection on still image failed: %v", derr)
		det = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.mode != ModeStill {
		return nil
	}
	c.still = jpegData
	c.lastDet = det
	if det != nil && len(det.Descriptor) > 0 {
		c.descriptor = det.Descriptor
		c.message = ""
		c.valid = true
	} else {
		c.descriptor = nil
		c.message = MsgNoFaceInStill
		c.valid = false
	}
	c.emitLocked(EventStillLoaded)
	return nil
}

// Snapshot returns a consistent copy of the user-visible state.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:           c.mode.String(),
		Message:        c.message,
		Valid:          c.valid,
		Polling:        c.polling,
		Paused:         c.paused,
		HasDescriptor:  len(c.descriptor) > 0,
		TriggerPending: c.trigger != nil,
		Detection:      c.lastDet,
		CheckIn:        c.checkin,
		Registration:   c.registration,
	}
}

// Stop tears the controller down: polling stopped, trigger cancelled, camera
// released. In-flight requests settle against a stale generation and are
// discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.generation++
	c.cancelTriggerLocked(false)
	c.stopPollingLocked()
	c.releaseSourceLocked()
	c.mu.Unlock()
	log.WithFields(logFields).Info("Kiosk controller stopped")
}

// releaseSourceLocked closes the current frame source, if any. Close is
// idempotent, so calling this on an already released source is safe.
func (c *Controller) releaseSourceLocked() {
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			log.WithFields(logFields).Warnf("Error releasing capture source: %v", err)
		}
		c.source = nil
	}
}

// emitLocked publishes a state event reflecting the current state. Caller
// must hold c.mu.
func (c *Controller) emitLocked(t EventType) {
	c.hub.Publish(Event{
		Type:      t,
		Mode:      c.mode.String(),
		Message:   c.message,
		Valid:     c.valid,
		Detection: c.lastDet,
	})
}
