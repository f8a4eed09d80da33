package detector

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/payload"
)

// QRDetector implements Detector using the OpenCV QR code detector.
// It reads at most one code per frame.
type QRDetector struct {
	mu     sync.Mutex
	qr     gocv.QRCodeDetector
	closed bool
}

// NewQRDetector creates a new QR detector.
func NewQRDetector() *QRDetector {
	return &QRDetector{qr: gocv.NewQRCodeDetector()}
}

// Detect decodes the QR code in frame, if any.
func (d *QRDetector) Detect(frame *gocv.Mat) (payload.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := payload.Result{LookedFor: payload.NewSymbologies(payload.QRCode)}

	if d.closed {
		return result, errors.New("qr detector is closed")
	}
	if frame == nil || frame.Empty() {
		return result, errors.New("empty frame")
	}

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	value := d.qr.DetectAndDecode(*frame, &points, &straight)
	if value == "" {
		return result, nil
	}

	det := payload.Detection{Payload: payload.Payload{Symbology: payload.QRCode, Value: value}}

	if !points.Empty() {
		data, err := points.DataPtrFloat32()
		if err != nil {
			return result, fmt.Errorf("read qr corners: %w", err)
		}
		if region, ok := cornersToRegion(pairs(data), frame.Cols(), frame.Rows()); ok {
			det.Metadata = payload.WithRegion(region)
		}
	}

	result.Detections = append(result.Detections, det)
	return result, nil
}

// Close releases the OpenCV detector.
func (d *QRDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.qr.Close()
}

// pairs groups a flat x,y,x,y... slice into points.
func pairs(flat []float32) [][2]float64 {
	out := make([][2]float64, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, [2]float64{float64(flat[i]), float64(flat[i+1])})
	}
	return out
}
