package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/detector"
	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
)

type fakePublisher struct {
	mu      sync.Mutex
	results []payload.Result
	err     error
}

func (p *fakePublisher) PushResult(ctx context.Context, res payload.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, res)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func blankFrames(t *testing.T, n int) []*gocv.Mat {
	t.Helper()
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
		frames[i] = &m
		t.Cleanup(func() { m.Close() })
	}
	return frames
}

func qrResult(value string) payload.Result {
	return payload.Result{
		Detections: []payload.Detection{{
			Payload:  payload.Payload{Symbology: payload.QRCode, Value: value},
			Metadata: payload.WithRegion(geometry.Rect(0.4, 0.4, 0.2, 0.2)),
		}},
		LookedFor: payload.NewSymbologies(payload.QRCode),
	}
}

func TestScanner_StepPublishesOneResultPerFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := NewMockCamera(blankFrames(t, 2), false)
	cam.Open()
	det := detector.NewMockDetector(qrResult("a"), payload.Result{LookedFor: payload.NewSymbologies(payload.QRCode)})
	pub := &fakePublisher{}

	s := NewScanner(cam, det, pub, ScannerConfig{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Step(ctx); err != nil {
			t.Fatalf("Step() %d error = %v", i, err)
		}
	}
	if err := s.Step(ctx); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("expected ErrNoMoreFrames, got %v", err)
	}

	if pub.count() != 2 {
		t.Fatalf("expected 2 published results, got %d", pub.count())
	}
	if len(pub.results[0].Detections) != 1 || len(pub.results[1].Detections) != 0 {
		t.Error("expected results in detector order")
	}

	stats := s.Stats()
	if stats.Published != 2 || stats.Detections != 1 || stats.Skipped != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestScanner_DetectionErrorSkipsFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := NewMockCamera(blankFrames(t, 1), true)
	cam.Open()
	det := detector.NewMockDetector()
	det.SetError(errors.New("decoder crashed"))
	pub := &fakePublisher{}

	s := NewScanner(cam, det, pub, ScannerConfig{})
	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("detection errors should not stop the scanner, got %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("expected skipped frame not to be published, got %d", pub.count())
	}
	if s.Stats().Skipped != 1 {
		t.Errorf("expected 1 skipped frame, got %d", s.Stats().Skipped)
	}
}

func TestScanner_ReadErrorSkipsFrame(t *testing.T) {
	cam := NewMockCamera(nil, false)
	pub := &fakePublisher{}

	s := NewScanner(cam, detector.NewMockDetector(), pub, ScannerConfig{})
	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("read errors should not stop the scanner, got %v", err)
	}
	if pub.count() != 0 || s.Stats().Skipped != 1 {
		t.Errorf("expected a skipped frame, got %+v", s.Stats())
	}
}

func TestScanner_PublishErrorIsReturned(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := NewMockCamera(blankFrames(t, 1), true)
	cam.Open()
	wantErr := errors.New("pipeline stopped")
	pub := &fakePublisher{err: wantErr}

	s := NewScanner(cam, detector.NewMockDetector(qrResult("a")), pub, ScannerConfig{})
	if err := s.Step(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected publish error, got %v", err)
	}
}

func TestScanner_WithoutMotionRunsActive(t *testing.T) {
	s := NewScanner(NewMockCamera(nil, false), detector.NewMockDetector(), &fakePublisher{}, ScannerConfig{ActiveFPS: 30})
	if !s.Active() {
		t.Error("expected scanner without motion gating to be active")
	}
	if s.currentFPS() != 30 {
		t.Errorf("currentFPS() = %d, want 30", s.currentFPS())
	}
}

func TestScanner_RunUntilExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := NewMockCamera(blankFrames(t, 3), false)
	cam.Open()
	pub := &fakePublisher{}
	s := NewScanner(cam, detector.NewMockDetector(qrResult("a")), pub, ScannerConfig{ActiveFPS: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pub.count() != 3 {
		t.Errorf("expected 3 published results, got %d", pub.count())
	}
	if cam.FPS() != 100 {
		t.Errorf("expected camera FPS set to 100, got %d", cam.FPS())
	}
}
