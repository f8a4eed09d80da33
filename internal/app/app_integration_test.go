package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/capture"
	"github.com/ayusman/steadyscan/internal/config"
	"github.com/ayusman/steadyscan/internal/detector"
	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/store"
	"github.com/ayusman/steadyscan/internal/tracking"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ScanFPS = 100
	cfg.IdleFPS = 100
	cfg.Motion = false
	cfg.Addr = ""
	cfg.DataDir = t.TempDir()
	cfg.DBPath = filepath.Join(cfg.DataDir, "steadyscan.db")
	return &cfg
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

type changeLog struct {
	mu      sync.Mutex
	changes []tracking.Change
}

func (l *changeLog) add(c tracking.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) kinds() []tracking.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]tracking.Kind, len(l.changes))
	for i, c := range l.changes {
		kinds[i] = c.Kind
	}
	return kinds
}

func TestApp_MissedFrameKeepsIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	qr := payload.NewSymbologies(payload.QRCode)
	seen := payload.Result{
		Detections: []payload.Detection{{
			Payload:  payload.Payload{Symbology: payload.QRCode, Value: "BIN-42"},
			Metadata: payload.WithRegion(geometry.Rect(0.4, 0.4, 0.2, 0.2)),
		}},
		LookedFor: qr,
	}
	missed := payload.Result{LookedFor: qr}

	cam := capture.NewMockCamera(blankFrames(t, 3), false)
	det := detector.NewMockDetector(seen, missed, seen)

	a, err := New(testConfig(t), Options{Camera: cam, Detector: det, NoServer: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var log changeLog
	a.Pipeline().Subscribe(log.add)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not finish")
	}

	// Wait for the pipeline to drain the frames already pushed.
	if err := a.Pipeline().Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := a.Inventory().Len(); got != 1 {
		t.Errorf("expected 1 visible code before stop, got %d", got)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	kinds := log.kinds()
	want := []tracking.Kind{tracking.Appeared, tracking.Moved, tracking.Disappeared}
	if len(kinds) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, kinds[i], want[i])
		}
	}
	id := log.changes[0].ID
	for _, c := range log.changes {
		if c.ID != id {
			t.Errorf("expected a single stable id, got %s and %s", id, c.ID)
		}
	}

	if a.Inventory().Len() != 0 {
		t.Errorf("expected inventory empty after stop, got %d", a.Inventory().Len())
	}
	if det.Calls() != 3 {
		t.Errorf("expected 3 detector calls, got %d", det.Calls())
	}

	// Stop closes the store; reopen it to inspect the ledger.
	s, err := store.New(a.cfg.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()
	sg, err := s.Sightings().GetByID(id.String())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sg.Moves != 1 || sg.Active() {
		t.Errorf("expected an ended sighting with 1 move, got %+v", sg)
	}
}

func TestApp_WithoutSmoothingReportsFlicker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	qr := payload.NewSymbologies(payload.QRCode)
	seen := payload.Result{
		Detections: []payload.Detection{{
			Payload:  payload.Payload{Symbology: payload.QRCode, Value: "BIN-42"},
			Metadata: payload.WithRegion(geometry.Rect(0.4, 0.4, 0.2, 0.2)),
		}},
		LookedFor: qr,
	}

	cfg := testConfig(t)
	cfg.Smoothing = false
	cfg.DBPath = ""

	a, err := New(cfg, Options{
		Camera:   capture.NewMockCamera(blankFrames(t, 3), false),
		Detector: detector.NewMockDetector(seen, payload.Result{LookedFor: qr}, seen),
		NoServer: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Store() != nil {
		t.Error("expected no store without a db path")
	}

	var log changeLog
	a.Pipeline().Subscribe(log.add)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-a.Done()
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []tracking.Kind{tracking.Appeared, tracking.Disappeared, tracking.Appeared, tracking.Disappeared}
	kinds := log.kinds()
	if len(kinds) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestApp_StopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""

	a, err := New(cfg, Options{
		Camera:   capture.NewMockCamera(nil, false),
		Detector: detector.NewMockDetector(),
		NoServer: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected Start after Stop to fail")
	}
}

func TestApp_RunsHooks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	cfg := testConfig(t)
	cfg.DBPath = ""
	cfg.HooksDir = filepath.Join(cfg.DataDir, "hooks")

	hookDir := filepath.Join(cfg.HooksDir, "arrivals")
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name":"arrivals","executable":"run.sh","events":["appeared"]}`
	if err := os.WriteFile(filepath.Join(hookDir, "hook.json"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\ncat >> ../arrivals.log\necho >> ../arrivals.log\necho '{\"success\":true}'\n"
	if err := os.WriteFile(filepath.Join(hookDir, "run.sh"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	qr := payload.NewSymbologies(payload.QRCode)
	seen := payload.Result{
		Detections: []payload.Detection{{
			Payload:  payload.Payload{Symbology: payload.QRCode, Value: "DOCK-1"},
			Metadata: payload.WithRegion(geometry.Rect(0.1, 0.1, 0.2, 0.2)),
		}},
		LookedFor: qr,
	}

	a, err := New(cfg, Options{
		Camera:   capture.NewMockCamera(blankFrames(t, 2), false),
		Detector: detector.NewMockDetector(seen, seen),
		NoServer: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Hooks() == nil {
		t.Fatal("expected hooks to be loaded")
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-a.Done()
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.HooksDir, "arrivals.log"))
	if err != nil {
		t.Fatalf("failed to read hook log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 hook run, got %d: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "DOCK-1") {
		t.Errorf("expected request to carry the payload, got %s", lines[0])
	}
	if a.Hooks().Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", a.Hooks().Runs())
	}
}
