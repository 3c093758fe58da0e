// Package backend speaks to the remote check-in service. Responses with a
// JSON body, whether 2xx or 4xx, are semantic verdicts; everything else is a
// transport failure.
package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"face-checkin-go/internal/config"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "backend",
}

// Customer is the identity metadata returned on a confident match.
type Customer struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Verdict is a semantic answer from the backend: either a match or a
// server-explained rejection.
type Verdict struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Customer *Customer `json:"customer,omitempty"`
}

// TransportError wraps network and protocol failures where no server verdict
// is available.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is the HTTP client for the check-in backend.
type Client struct {
	cfg        config.BackendConfig
	httpClient *http.Client
}

// NewClient creates a new check-in backend client.
func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// CheckInImage submits a whole image for server-side detection and check-in.
func (c *Client) CheckInImage(ctx context.Context, jpegData []byte) (*Verdict, error) {
	return c.postMultipart(ctx, "/checkin", func(w *multipart.Writer) error {
		return writeImageFile(w, jpegData)
	})
}

// CheckInDescriptor submits a face descriptor for check-in.
func (c *Client) CheckInDescriptor(ctx context.Context, descriptor []float32) (*Verdict, error) {
	return c.postMultipart(ctx, "/checkin/detection", func(w *multipart.Writer) error {
		return writeDescriptor(w, descriptor)
	})
}

// Register enrolls a new identity from a whole image.
func (c *Client) Register(ctx context.Context, name, code string, jpegData []byte) (*Verdict, error) {
	return c.postMultipart(ctx, "/register", func(w *multipart.Writer) error {
		if err := writeIdentityFields(w, name, code); err != nil {
			return err
		}
		return writeImageFile(w, jpegData)
	})
}

// RegisterDescriptor enrolls a new identity from a face descriptor.
func (c *Client) RegisterDescriptor(ctx context.Context, name, code string, descriptor []float32) (*Verdict, error) {
	return c.postMultipart(ctx, "/register/detection", func(w *multipart.Writer) error {
		if err := writeIdentityFields(w, name, code); err != nil {
			return err
		}
		return writeDescriptor(w, descriptor)
	})
}

// postMultipart builds a multipart body via fill, posts it and interprets the
// response per the verdict/transport split.
func (c *Client) postMultipart(ctx context.Context, path string, fill func(*multipart.Writer) error) (*Verdict, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := fill(writer); err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.cfg.URL, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.WithFields(logFields).Debugf("POST %s (%d bytes)", path, body.Len())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	// 5xx means the server could not produce a verdict.
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &TransportError{Err: fmt.Errorf("server error status %d", resp.StatusCode)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		return nil, &TransportError{Err: fmt.Errorf("non-JSON response (status %d, content-type %q)", resp.StatusCode, ct)}
	}

	var verdict Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	return &verdict, nil
}

// EncodeDescriptor serializes a descriptor as N 4-byte IEEE-754 little-endian
// floats, the wire format of the /detection endpoints.
func EncodeDescriptor(descriptor []float32) []byte {
	buf := new(bytes.Buffer)
	// Write into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, descriptor)
	return buf.Bytes()
}

func writeImageFile(w *multipart.Writer, jpegData []byte) error {
	part, err := w.CreateFormFile("imageFile", "image.jpg")
	if err != nil {
		return fmt.Errorf("failed to create imageFile field: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(jpegData)); err != nil {
		return fmt.Errorf("failed to copy image data: %w", err)
	}
	return nil
}

func writeDescriptor(w *multipart.Writer, descriptor []float32) error {
	part, err := w.CreateFormFile("descriptor", "descriptor.bin")
	if err != nil {
		return fmt.Errorf("failed to create descriptor field: %w", err)
	}
	if _, err := part.Write(EncodeDescriptor(descriptor)); err != nil {
		return fmt.Errorf("failed to write descriptor data: %w", err)
	}
	return nil
}

func writeIdentityFields(w *multipart.Writer, name, code string) error {
	if err := w.WriteField("name", name); err != nil {
		return fmt.Errorf("failed to write name field: %w", err)
	}
	if err := w.WriteField("code", code); err != nil {
		return fmt.Errorf("failed to write code field: %w", err)
	}
	return nil
}
