// Package capture owns the capture sources of the kiosk: the webcam in live
// mode and decoded uploaded images in still mode. Both are handed to the
// detection engine as JPEG bytes.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// FrameSource abstracts "the current frame" as an encoded JPEG image.
type FrameSource interface {
	// Frame returns the current frame as JPEG bytes.
	Frame(ctx context.Context) ([]byte, error)
	// Close releases the underlying device. Must be idempotent.
	Close() error
}

// DecodeError indicates that uploaded bytes could not be decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid image data: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeStill converts raw uploaded bytes into JPEG bytes suitable for the
// detection engine. Images larger than maxEdge on their long edge are
// downscaled first to keep detection latency bounded.
func DecodeStill(data []byte, maxEdge int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if maxEdge > 0 {
		img = downscale(img, maxEdge)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to re-encode still image: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale scales img down so that its long edge is at most maxEdge.
// Images already within bounds are returned unchanged.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(long)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}
