// Package detect speaks to the external face detection engine over HTTP.
// The engine localizes faces and extracts the fixed-length descriptor; this
// package only transports images in and detections out.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"face-checkin-go/internal/config"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "detect",
}

// Detection is one detected face. Landmarks are passed through for rendering
// only and are never interpreted here.
type Detection struct {
	Box        Box          `json:"box"`
	Confidence float64      `json:"confidence"`
	Descriptor []float32    `json:"-"`
	Landmarks  [][2]float64 `json:"landmarks,omitempty"`
}

// Box is the bounding box of a detected face in pixel coordinates.
type Box struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// apiInfoResponse describes the engine's readiness state.
type apiInfoResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// apiDetectResponse is the engine's answer to a detection request.
type apiDetectResponse struct {
	Status     string `json:"status"`
	FacesCount int    `json:"faces_count"`
	Faces      []struct {
		BoundingBox []int        `json:"bbox"`
		Confidence  float64      `json:"confidence"`
		Embedding   []float32    `json:"embedding,omitempty"`
		Landmarks   [][2]float64 `json:"landmarks,omitempty"`
	} `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// Client is the HTTP client for the detection engine.
type Client struct {
	cfg        config.DetectorConfig
	httpClient *http.Client
}

// NewClient creates a new detection engine client.
func NewClient(cfg config.DetectorConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Ping checks whether the engine is reachable and its model is loaded.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info", c.cfg.URL), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to reach detection engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("detection engine not ready, status: %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("failed to decode info response: %w", err)
	}

	return info.Status == "ok", nil
}

// WaitReady blocks until the engine reports a loaded model or ctx expires.
// The model load is a one-time asynchronous step on the engine side; callers
// must await readiness before the first poll.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		ready, err := c.Ping(ctx)
		if ready {
			log.WithFields(logFields).Info("Detection engine ready")
			return nil
		}
		if err != nil {
			log.WithFields(logFields).Debugf("Detection engine not ready yet: %v", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("detection engine did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Detect submits JPEG bytes and returns the most confident detected face, or
// nil when the engine finds none. Each call is independent.
func (c *Client) Detect(ctx context.Context, jpegData []byte) (*Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(jpegData)); err != nil {
		return nil, fmt.Errorf("failed to copy image data: %w", err)
	}

	if err := writer.WriteField("threshold", fmt.Sprintf("%f", c.cfg.Threshold)); err != nil {
		return nil, fmt.Errorf("failed to write threshold field: %w", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, fmt.Errorf("failed to write extract_embedding field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/detect", c.cfg.URL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected detection status: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("detection engine error: %s", apiResp.Status)
	}

	if apiResp.FacesCount == 0 || len(apiResp.Faces) == 0 {
		return nil, nil
	}

	// The kiosk works with a single face. Pick the most confident one.
	best := apiResp.Faces[0]
	for _, f := range apiResp.Faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}

	det := &Detection{
		Confidence: best.Confidence,
		Descriptor: best.Embedding,
		Landmarks:  best.Landmarks,
	}
	if len(best.BoundingBox) == 4 {
		det.Box = Box{
			XMin: best.BoundingBox[0],
			YMin: best.BoundingBox[1],
			XMax: best.BoundingBox[2],
			YMax: best.BoundingBox[3],
		}
	}

	log.WithFields(logFields).Debugf("Detection in %.0fms, confidence %.2f, descriptor length %d",
		apiResp.ProcessTime, det.Confidence, len(det.Descriptor))
	return det, nil
}
