package kiosk

import (
	"context"
	"strings"

	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/capture"
	"face-checkin-go/internal/history"

	log "github.com/sirupsen/logrus"
)

// SubmitRegistration enrolls a new identity. The lifecycle is independent of
// the detection loop and of the check-in flow; only one registration request
// may be in flight at a time.
//
// name and code must be non-empty after trimming and an image must have been
// supplied (either with this call or retained from a previous attempt).
// Validation failures are local: no network call is made and the form is
// preserved so the user can correct and resubmit. A successful registration
// clears the form.
func (c *Controller) SubmitRegistration(ctx context.Context, name, code string, imageData []byte) error {
	c.mu.Lock()
	if c.registration.State == StateInFlight {
		c.mu.Unlock()
		return ErrRequestInFlight
	}

	// Retain the form. A fresh call without a file keeps the previously
	// supplied one.
	if len(imageData) == 0 {
		imageData = c.form.Image
	}
	c.form = RegistrationForm{Name: name, Code: code, Image: imageData}

	trimmedName := strings.TrimSpace(name)
	trimmedCode := strings.TrimSpace(code)
	if verr := validateRegistration(trimmedName, trimmedCode, imageData); verr != nil {
		c.registration = Lifecycle{State: StateFailed, Message: verr.Reason}
		c.emitLocked(EventRegistrationFailed)
		c.mu.Unlock()
		return verr
	}

	c.registration = Lifecycle{State: StateInFlight}
	c.emitLocked(EventRegistrationStarted)
	mode := c.mode
	c.mu.Unlock()

	jpegData, err := capture.DecodeStill(imageData, c.stillMaxEdge)
	if err != nil {
		c.settleRegistration(mode, history.OutcomeLocal, MsgInvalidImage, nil)
		return err
	}

	var verdict *backend.Verdict
	var callErr error
	defer func() {
		outcome, msg := classifyRegistrationVerdict(verdict, callErr)
		c.settleRegistration(mode, outcome, msg, nil)
	}()

	// Prefer the descriptor path when the engine finds a face; fall back to
	// the whole image so the backend can run its own detection.
	det, derr := c.engine.Detect(ctx, jpegData)
	if derr != nil {
		log.WithFields(logFields).Warnf("Detection on registration image failed, submitting whole image: %v", derr)
	}
	if derr == nil && det != nil && len(det.Descriptor) > 0 {
		verdict, callErr = c.backend.RegisterDescriptor(ctx, trimmedName, trimmedCode, det.Descriptor)
	} else {
		verdict, callErr = c.backend.Register(ctx, trimmedName, trimmedCode, jpegData)
	}
	return callErr
}

// RegistrationFormSnapshot returns a copy of the retained form fields.
func (c *Controller) RegistrationFormSnapshot() RegistrationForm {
	c.mu.Lock()
	defer c.mu.Unlock()
	form := c.form
	form.Image = append([]byte(nil), c.form.Image...)
	return form
}

// classifyRegistrationVerdict mirrors classifyVerdict for the enrollment
// flow, where a success carries a plain confirmation instead of a match.
func classifyRegistrationVerdict(verdict *backend.Verdict, err error) (outcome, msg string) {
	switch {
	case err != nil || verdict == nil:
		return history.OutcomeTransport, MsgConnectionError
	case verdict.Success:
		if verdict.Message != "" {
			return history.OutcomeSucceeded, verdict.Message
		}
		return history.OutcomeSucceeded, "registration successful"
	default:
		if verdict.Message != "" {
			return history.OutcomeRejected, verdict.Message
		}
		return history.OutcomeRejected, MsgRequestInvalid
	}
}

func validateRegistration(name, code string, imageData []byte) *ValidationError {
	switch {
	case name == "":
		return &ValidationError{Reason: "name is required"}
	case code == "":
		return &ValidationError{Reason: "code is required"}
	case len(imageData) == 0:
		return &ValidationError{Reason: "an image is required"}
	default:
		return nil
	}
}

// settleRegistration folds the outcome into the registration lifecycle. On
// success the retained form is cleared; any failure preserves it.
func (c *Controller) settleRegistration(mode Mode, outcome, msg string, cust *backend.Customer) {
	success := outcome == history.OutcomeSucceeded

	c.mu.Lock()
	if success {
		c.registration = Lifecycle{State: StateSucceeded, Message: msg}
		c.form = RegistrationForm{}
		c.emitLocked(EventRegistrationSucceeded)
	} else {
		c.registration = Lifecycle{State: StateFailed, Message: msg}
		c.emitLocked(EventRegistrationFailed)
	}
	c.mu.Unlock()

	c.recordAttempt(history.KindRegistration, mode, outcome, msg, cust)
}
