package kiosk

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/detect"
)

func TestSubmitRegistration_ValidationIsLocal(t *testing.T) {
	engine := &fakeEngine{}
	be := &fakeBackend{}
	ctrl, _ := newTestController(testConfig(), engine, be)

	err := ctrl.SubmitRegistration(context.Background(), "   ", "X123", encodePNG(t))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if verr.Reason != "name is required" {
		t.Errorf("Unexpected validation reason %q", verr.Reason)
	}
	if be.registerCalls+be.registerDescCalls != 0 {
		t.Error("Validation failure must not reach the backend")
	}

	status := ctrl.Snapshot()
	if status.Registration.State != StateFailed {
		t.Errorf("Expected failed registration lifecycle, got %s", status.Registration.State)
	}
	if form := ctrl.RegistrationFormSnapshot(); len(form.Image) == 0 {
		t.Error("Validation failure must preserve the supplied image")
	}
}

func TestSubmitRegistration_ReusesRetainedImage(t *testing.T) {
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection()}}
	be := &fakeBackend{}
	ctrl, _ := newTestController(testConfig(), engine, be)

	// First attempt fails validation but retains the image.
	if err := ctrl.SubmitRegistration(context.Background(), "Bob", "", encodePNG(t)); err == nil {
		t.Fatal("Expected a validation error for the empty code")
	}

	// Second attempt corrects the code without re-uploading.
	if err := ctrl.SubmitRegistration(context.Background(), "Bob", "X123", nil); err != nil {
		t.Fatalf("Resubmission with the retained image failed: %v", err)
	}
	if be.registerDescCalls != 1 {
		t.Errorf("Expected one descriptor registration, got %d", be.registerDescCalls)
	}

	status := ctrl.Snapshot()
	if status.Registration.State != StateSucceeded {
		t.Errorf("Expected succeeded registration, got %s", status.Registration.State)
	}
	form := ctrl.RegistrationFormSnapshot()
	if form.Name != "" || form.Code != "" || len(form.Image) != 0 {
		t.Errorf("Successful registration must clear the form, got %+v", form)
	}
}

func TestSubmitRegistration_InvalidImageFailsBeforeBackend(t *testing.T) {
	engine := &fakeEngine{}
	be := &fakeBackend{}
	ctrl, _ := newTestController(testConfig(), engine, be)

	err := ctrl.SubmitRegistration(context.Background(), "Bob", "X123", []byte("not an image"))
	if err == nil {
		t.Fatal("Expected a decode error")
	}
	if be.registerCalls+be.registerDescCalls != 0 {
		t.Error("A broken image must not reach the backend")
	}

	status := ctrl.Snapshot()
	if status.Registration.State != StateFailed {
		t.Errorf("Expected failed registration, got %s", status.Registration.State)
	}
	if status.Registration.Message != MsgInvalidImage {
		t.Errorf("Expected %q, got %q", MsgInvalidImage, status.Registration.Message)
	}
}

func TestSubmitRegistration_NoFaceFallsBackToImage(t *testing.T) {
	engine := &fakeEngine{} // never finds a face
	be := &fakeBackend{}
	ctrl, _ := newTestController(testConfig(), engine, be)

	if err := ctrl.SubmitRegistration(context.Background(), "Bob", "X123", encodePNG(t)); err != nil {
		t.Fatalf("SubmitRegistration failed: %v", err)
	}
	if be.registerCalls != 1 || be.registerDescCalls != 0 {
		t.Errorf("Expected the whole-image path, got image=%d descriptor=%d", be.registerCalls, be.registerDescCalls)
	}
}

func TestSubmitRegistration_RejectionPreservesForm(t *testing.T) {
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection()}}
	be := &fakeBackend{}
	be.setVerdict(&backend.Verdict{Success: false, Message: "code already in use"}, nil)
	ctrl, _ := newTestController(testConfig(), engine, be)

	if err := ctrl.SubmitRegistration(context.Background(), "Bob", "X123", encodePNG(t)); err != nil {
		t.Fatalf("SubmitRegistration returned an error for a semantic rejection: %v", err)
	}

	status := ctrl.Snapshot()
	if status.Registration.State != StateFailed {
		t.Errorf("Expected failed registration, got %s", status.Registration.State)
	}
	if status.Registration.Message != "code already in use" {
		t.Errorf("Rejection message must surface verbatim, got %q", status.Registration.Message)
	}

	form := ctrl.RegistrationFormSnapshot()
	if form.Name != "Bob" || form.Code != "X123" || len(form.Image) == 0 {
		t.Error("A rejected registration must preserve the form for correction")
	}
}

func TestSubmitRegistration_SecondRequestRejectedWhileInFlight(t *testing.T) {
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection()}}
	be := &fakeBackend{delay: 80 * time.Millisecond}
	ctrl, _ := newTestController(testConfig(), engine, be)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.SubmitRegistration(context.Background(), "Bob", "X123", encodePNG(t))
	}()
	time.Sleep(20 * time.Millisecond)

	err := ctrl.SubmitRegistration(context.Background(), "Eve", "Y456", encodePNG(t))
	if !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("Expected ErrRequestInFlight, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if be.registerCalls+be.registerDescCalls != 1 {
		t.Errorf("Expected exactly one backend call, got %d", be.registerCalls+be.registerDescCalls)
	}
}
