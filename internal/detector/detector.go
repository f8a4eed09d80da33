// Package detector provides the code-reading collaborators that turn camera
// frames into per-frame detection results.
package detector

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
)

// Detector defines the interface for code detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns every payload found in it.
	// Result.LookedFor lists the symbologies that were searched for, even when
	// nothing was found.
	Detect(frame *gocv.Mat) (payload.Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for code detection.
type Config struct {
	// Symbologies restricts what is reported. Detectors never claim to have
	// looked for symbologies outside this set.
	Symbologies payload.Symbologies

	// Command is the decoder service to launch for ServiceDetector.
	Command []string

	// IdleTimeout stops an idle decoder service (default: 30s).
	IdleTimeout time.Duration

	// ReadTimeout bounds each request/response exchange with the decoder
	// service (default: 5s). A decoder that misses it is killed.
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Symbologies: payload.NewSymbologies(payload.QRCode),
		IdleTimeout: 30 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

// cornersToRegion converts pixel-space corners to a polygon in frame
// coordinates. Both axes are divided by the longer frame side, so the long
// side spans [0,1] and shapes keep their pixel-space angles and proportions.
func cornersToRegion(corners [][2]float64, width, height int) (geometry.Region, bool) {
	if len(corners) < 3 || width <= 0 || height <= 0 {
		return geometry.Region{}, false
	}
	scale := float64(max(width, height))
	var p geometry.Path
	for i, c := range corners {
		x := c[0] / scale
		y := c[1] / scale
		if i == 0 {
			p.MoveTo(x, y)
		} else {
			p.LineTo(x, y)
		}
	}
	return p.Close(), true
}
