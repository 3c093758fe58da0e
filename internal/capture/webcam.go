package capture

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var logFields = log.Fields{
	"component": "capture",
}

// ErrCaptureUnavailable is returned when the camera cannot be acquired or
// stops delivering frames. It is terminal for the current mode: the caller
// surfaces it and does not retry acquisition.
var ErrCaptureUnavailable = fmt.Errorf("capture unavailable")

// Webcam is a FrameSource backed by a local video device.
type Webcam struct {
	device int

	mu     sync.Mutex
	cam    *gocv.VideoCapture
	closed bool
}

// OpenWebcam acquires the video device with the given index and probes it for
// a first frame. Acquisition failures map to ErrCaptureUnavailable.
func OpenWebcam(device int) (*Webcam, error) {
	cam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: opening device %d: %v", ErrCaptureUnavailable, device, err)
	}

	// Probe a frame so a dead device fails here, not on the first poll.
	probe := gocv.NewMat()
	defer probe.Close()
	if ok := cam.Read(&probe); !ok || probe.Empty() {
		cam.Close()
		return nil, fmt.Errorf("%w: device %d delivered no frame", ErrCaptureUnavailable, device)
	}

	log.WithFields(logFields).Infof("Camera device %d acquired", device)
	return &Webcam{device: device, cam: cam}, nil
}

// Frame reads the current frame from the device and encodes it as JPEG.
func (w *Webcam) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.cam == nil {
		return nil, fmt.Errorf("%w: camera released", ErrCaptureUnavailable)
	}

	frame := gocv.NewMat()
	defer frame.Close()

	if ok := w.cam.Read(&frame); !ok || frame.Empty() {
		return nil, fmt.Errorf("%w: device %d read failed", ErrCaptureUnavailable, w.device)
	}

	buf, err := gocv.IMEncode(".jpg", frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	// Copy out, the gocv buffer is freed on Close.
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}

// Close releases the camera device. Safe to call multiple times.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.cam != nil {
		if err := w.cam.Close(); err != nil {
			log.WithFields(logFields).Warnf("Error closing camera device %d: %v", w.device, err)
		}
		w.cam = nil
		log.WithFields(logFields).Infof("Camera device %d released", w.device)
	}
	return nil
}
