package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"face-checkin-go/internal/config"
)

func testClient(url string) *Client {
	return NewClient(config.DetectorConfig{URL: url, TimeoutSeconds: 5, Threshold: 0.8})
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("Expected path /info, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
	}))
	defer server.Close()

	ready, err := testClient(server.URL).Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !ready {
		t.Error("Expected engine to report ready")
	}
}

func TestDetect_PicksMostConfidentFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("Expected path /detect, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("Missing file field: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"faces_count": 2,
			"faces": []map[string]interface{}{
				{
					"bbox":       []int{0, 0, 10, 10},
					"confidence": 0.70,
					"embedding":  []float32{1, 1},
				},
				{
					"bbox":       []int{20, 20, 60, 60},
					"confidence": 0.95,
					"embedding":  []float32{2, 2},
				},
			},
		})
	}))
	defer server.Close()

	det, err := testClient(server.URL).Detect(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det == nil {
		t.Fatal("Expected a detection")
	}
	if det.Confidence != 0.95 {
		t.Errorf("Expected the most confident face (0.95), got %f", det.Confidence)
	}
	if len(det.Descriptor) != 2 || det.Descriptor[0] != 2 {
		t.Errorf("Expected descriptor of the best face, got %v", det.Descriptor)
	}
	if det.Box.XMin != 20 || det.Box.YMax != 60 {
		t.Errorf("Unexpected bounding box: %+v", det.Box)
	}
}

func TestDetect_NoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"faces_count": 0,
			"faces":       []interface{}{},
		})
	}))
	defer server.Close()

	det, err := testClient(server.URL).Detect(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det != nil {
		t.Errorf("Expected no detection, got %+v", det)
	}
}

func TestDetect_EngineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "model_not_loaded"})
	}))
	defer server.Close()

	if _, err := testClient(server.URL).Detect(context.Background(), []byte{0xFF, 0xD8}); err == nil {
		t.Error("Expected an error for a non-ok engine status")
	}
}
