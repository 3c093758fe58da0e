package kiosk

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/capture"
	"face-checkin-go/internal/config"
	"face-checkin-go/internal/detect"
)

func testConfig() *config.Config {
	return &config.Config{
		Kiosk:   config.KioskConfig{PollIntervalMs: 5, DebounceDelayMs: 40},
		Capture: config.CaptureConfig{StillMaxEdge: 640},
	}
}

func positiveDetection() *detect.Detection {
	descriptor := make([]float32, 128)
	descriptor[0] = 0.5
	return &detect.Detection{
		Confidence: 0.97,
		Descriptor: descriptor,
		Box:        detect.Box{XMin: 10, YMin: 10, XMax: 90, YMax: 90},
	}
}

// encodePNG builds a small in-memory image for still-mode tests.
func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: uint8(8 * x), G: uint8(10 * y), B: 64, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

// fakeSource is an in-memory FrameSource.
type fakeSource struct {
	mu         sync.Mutex
	closeCount int
}

func (f *fakeSource) Frame(ctx context.Context) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0x01}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	return nil
}

// fakeEngine plays back a scripted sequence of detection results; the last
// entry repeats. A nil entry means "no face".
type fakeEngine struct {
	mu    sync.Mutex
	seq   []*detect.Detection
	idx   int
	err   error
	delay time.Duration

	calls     int32
	active    int32
	maxActive int32
}

func (e *fakeEngine) Detect(ctx context.Context, _ []byte) (*detect.Detection, error) {
	atomic.AddInt32(&e.calls, 1)
	a := atomic.AddInt32(&e.active, 1)
	for {
		m := atomic.LoadInt32(&e.maxActive)
		if a <= m || atomic.CompareAndSwapInt32(&e.maxActive, m, a) {
			break
		}
	}
	defer atomic.AddInt32(&e.active, -1)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	if len(e.seq) == 0 {
		return nil, nil
	}
	det := e.seq[e.idx]
	if e.idx < len(e.seq)-1 {
		e.idx++
	}
	return det, nil
}

func (e *fakeEngine) callCount() int32     { return atomic.LoadInt32(&e.calls) }
func (e *fakeEngine) maxConcurrent() int32 { return atomic.LoadInt32(&e.maxActive) }

// blockingEngine blocks every Detect call until release is closed.
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	det     *detect.Detection
}

func newBlockingEngine(det *detect.Detection) *blockingEngine {
	return &blockingEngine{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		det:     det,
	}
}

func (e *blockingEngine) Detect(ctx context.Context, _ []byte) (*detect.Detection, error) {
	select {
	case e.started <- struct{}{}:
	default:
	}
	select {
	case <-e.release:
		return e.det, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeBackend counts calls and plays back a configured verdict or error.
type fakeBackend struct {
	mu      sync.Mutex
	verdict *backend.Verdict
	err     error
	delay   time.Duration

	descriptorCalls   int32
	imageCalls        int32
	registerCalls     int32
	registerDescCalls int32
}

func (b *fakeBackend) respond() (*backend.Verdict, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.verdict != nil {
		return b.verdict, nil
	}
	return &backend.Verdict{Success: true, Customer: &backend.Customer{Name: "Alice", Distance: 0.32}}, nil
}

func (b *fakeBackend) CheckInImage(ctx context.Context, _ []byte) (*backend.Verdict, error) {
	atomic.AddInt32(&b.imageCalls, 1)
	return b.respond()
}

func (b *fakeBackend) CheckInDescriptor(ctx context.Context, _ []float32) (*backend.Verdict, error) {
	atomic.AddInt32(&b.descriptorCalls, 1)
	return b.respond()
}

func (b *fakeBackend) Register(ctx context.Context, _, _ string, _ []byte) (*backend.Verdict, error) {
	atomic.AddInt32(&b.registerCalls, 1)
	return b.respond()
}

func (b *fakeBackend) RegisterDescriptor(ctx context.Context, _, _ string, _ []float32) (*backend.Verdict, error) {
	atomic.AddInt32(&b.registerDescCalls, 1)
	return b.respond()
}

func (b *fakeBackend) totalCheckIns() int32 {
	return atomic.LoadInt32(&b.descriptorCalls) + atomic.LoadInt32(&b.imageCalls)
}

func (b *fakeBackend) setVerdict(v *backend.Verdict, err error) {
	b.mu.Lock()
	b.verdict = v
	b.err = err
	b.mu.Unlock()
}

// newTestController wires a controller with fakes and a fake camera.
func newTestController(cfg *config.Config, engine Engine, be Backend) (*Controller, *fakeSource) {
	src := &fakeSource{}
	ctrl := New(cfg, engine, be, Options{
		OpenCamera: func() (capture.FrameSource, error) {
			return src, nil
		},
	})
	return ctrl, src
}
