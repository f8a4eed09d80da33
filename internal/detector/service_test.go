package detector

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/payload"
)

func newShellDecoder(t *testing.T, script string, mutate func(*Config)) *ServiceDetector {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell decoders are not supported on Windows")
	}

	cfg := DefaultConfig()
	cfg.Command = []string{"/bin/sh", "-c", script}
	cfg.Symbologies = payload.NewSymbologies(payload.EAN13)
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewServiceDetector(cfg)
	if err != nil {
		t.Fatalf("NewServiceDetector() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestServiceDetector_Detect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV test in short mode")
	}

	d := newShellDecoder(t,
		`echo '{"detections":[{"symbology":"ean13","value":"4006381333931","corners":[[0,0],[100,0],[100,20],[0,20]]}]}'; cat >/dev/null`,
		nil)

	frame := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()

	res, err := d.Detect(&frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(res.Detections) != 1 || res.Detections[0].Payload.Value != "4006381333931" {
		t.Fatalf("unexpected detections %+v", res.Detections)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServiceDetector_HungDecoderTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV test in short mode")
	}

	d := newShellDecoder(t, `cat >/dev/null`, func(c *Config) {
		c.ReadTimeout = 200 * time.Millisecond
	})

	frame := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()

	start := time.Now()
	_, err := d.Detect(&frame)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > stopGrace {
		t.Errorf("Detect() took %v, want well under %v", elapsed, stopGrace)
	}

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		t.Error("expected hung decoder to be stopped")
	}
}

func TestServiceDetector_StaleIdleTimerIsIgnored(t *testing.T) {
	d := newShellDecoder(t, `cat >/dev/null`, func(c *Config) {
		c.IdleTimeout = 10 * time.Millisecond
	})

	d.mu.Lock()
	if err := d.ensureStarted(); err != nil {
		d.mu.Unlock()
		t.Fatalf("ensureStarted() error = %v", err)
	}
	d.resetIdleTimer()

	// The first timer fires and waits on the lock while a request is in
	// flight; the request then re-arms the timer.
	time.Sleep(50 * time.Millisecond)
	d.config.IdleTimeout = time.Hour
	d.resetIdleTimer()
	d.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		t.Error("expected decoder to survive an idle timer from before the last request")
	}
}

func TestServiceDetector_IdleStop(t *testing.T) {
	d := newShellDecoder(t, `cat >/dev/null`, func(c *Config) {
		c.IdleTimeout = 10 * time.Millisecond
	})

	d.mu.Lock()
	if err := d.ensureStarted(); err != nil {
		d.mu.Unlock()
		t.Fatalf("ensureStarted() error = %v", err)
	}
	d.resetIdleTimer()
	d.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		started := d.started
		d.mu.Unlock()
		if !started {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected idle decoder to be stopped")
}
