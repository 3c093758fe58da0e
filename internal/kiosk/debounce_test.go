package kiosk

import (
	"testing"
	"time"

	"face-checkin-go/internal/detect"
)

func TestTrigger_FiresOncePerArming(t *testing.T) {
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection()}}
	be := &fakeBackend{delay: 100 * time.Millisecond}
	ctrl, _ := newTestController(testConfig(), engine, be)
	defer ctrl.Stop()

	if err := ctrl.SetMode(ModeLive); err != nil {
		t.Fatalf("SetMode(live) failed: %v", err)
	}

	// Arming happens on the first positive poll, the trigger fires after the
	// 40ms debounce and the slow backend keeps the request in flight. A
	// second submission for the same arming must not happen.
	time.Sleep(110 * time.Millisecond)
	if calls := be.totalCheckIns(); calls != 1 {
		t.Fatalf("Expected exactly one auto-submitted check-in, got %d", calls)
	}
	if status := ctrl.Snapshot(); status.CheckIn.State != StateInFlight {
		t.Errorf("Expected check-in still in flight, got %s", status.CheckIn.State)
	}

	// Switching away before the request settles makes the result stale.
	if err := ctrl.SetMode(ModeStill); err != nil {
		t.Fatalf("SetMode(still) failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	status := ctrl.Snapshot()
	if calls := be.totalCheckIns(); calls != 1 {
		t.Errorf("Expected no further submissions after the mode switch, got %d", calls)
	}
	if status.CheckIn.State != StateIdle {
		t.Errorf("Stale completion must return the lifecycle to idle, got %s", status.CheckIn.State)
	}
	if status.Message != "" {
		t.Errorf("Stale completion must not surface a message, got %q", status.Message)
	}
}

func TestTrigger_CancelledByModeSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.Kiosk.DebounceDelayMs = 80
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection()}}
	be := &fakeBackend{}
	ctrl, _ := newTestController(cfg, engine, be)
	defer ctrl.Stop()

	if err := ctrl.SetMode(ModeLive); err != nil {
		t.Fatalf("SetMode(live) failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if status := ctrl.Snapshot(); !status.TriggerPending {
		t.Fatal("Expected a pending trigger after a positive detection")
	}

	if err := ctrl.SetMode(ModeStill); err != nil {
		t.Fatalf("SetMode(still) failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if calls := be.totalCheckIns(); calls != 0 {
		t.Errorf("Cancelled trigger must never submit, got %d calls", calls)
	}
	if status := ctrl.Snapshot(); status.TriggerPending {
		t.Error("Mode switch must cancel the pending trigger")
	}
}

func TestTrigger_CancelledWhenFaceLost(t *testing.T) {
	cfg := testConfig()
	cfg.Kiosk.DebounceDelayMs = 80
	engine := &fakeEngine{seq: []*detect.Detection{positiveDetection(), nil}}
	be := &fakeBackend{}
	ctrl, _ := newTestController(cfg, engine, be)
	defer ctrl.Stop()

	if err := ctrl.SetMode(ModeLive); err != nil {
		t.Fatalf("SetMode(live) failed: %v", err)
	}

	// First poll arms the trigger, the second reports no face and must
	// cancel it well before the 80ms debounce elapses.
	time.Sleep(150 * time.Millisecond)
	ctrl.Stop()

	if calls := be.totalCheckIns(); calls != 0 {
		t.Errorf("Trigger must not fire after the face was lost, got %d calls", calls)
	}
	status := ctrl.Snapshot()
	if status.TriggerPending {
		t.Error("Expected no pending trigger after the face was lost")
	}
	if status.HasDescriptor {
		t.Error("Losing the face must clear the descriptor buffer")
	}
}
