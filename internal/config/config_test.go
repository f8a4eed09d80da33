package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steadyscan.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
camera: testdata/shelf.mp4
scan_fps: 20
idle_fps: 4
deletion_delay: 750ms
smoothing: false
symbologies: [qr, ean13]
decoder_command: [zbar-service, --json]
data_dir: `+dataDir+`
expansion:
  fallback: 3.0
  tiers:
    - max_ratio: 0.3
      scale: 4.0
`)

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Camera != "testdata/shelf.mp4" {
		t.Errorf("Camera = %q, want testdata/shelf.mp4", cfg.Camera)
	}
	if cfg.ScanFPS != 20 || cfg.IdleFPS != 4 {
		t.Errorf("unexpected fps %d/%d", cfg.ScanFPS, cfg.IdleFPS)
	}
	if cfg.DeletionDelay != 750*time.Millisecond {
		t.Errorf("DeletionDelay = %v, want 750ms", cfg.DeletionDelay)
	}
	if cfg.Smoothing {
		t.Error("expected smoothing disabled")
	}
	if cfg.DBPath != filepath.Join(dataDir, "steadyscan.db") {
		t.Errorf("DBPath = %q, want default under data dir", cfg.DBPath)
	}

	syms, err := cfg.SymbologySet()
	if err != nil {
		t.Fatalf("SymbologySet() error = %v", err)
	}
	if syms != payload.NewSymbologies(payload.QRCode, payload.EAN13) {
		t.Errorf("SymbologySet() = %v", syms)
	}

	want := geometry.Expansion{Tiers: []geometry.Tier{{MaxRatio: 0.3, Scale: 4.0}}, Fallback: 3.0}
	if diff := cmp.Diff(want, cfg.Expansion); diff != "" {
		t.Errorf("Expansion mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "addr: 127.0.0.1:9000\n")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.DeletionDelay != def.DeletionDelay {
		t.Errorf("DeletionDelay = %v, want %v", cfg.DeletionDelay, def.DeletionDelay)
	}
	if !cfg.Smoothing || !cfg.Motion {
		t.Error("expected smoothing and motion enabled by default")
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if diff := cmp.Diff(geometry.DefaultExpansion(), cfg.Expansion); diff != "" {
		t.Errorf("Expansion mismatch (-want +got):\n%s", diff)
	}
	if strings.HasPrefix(cfg.DataDir, "~") {
		t.Errorf("expected data dir to be expanded, got %q", cfg.DataDir)
	}
	if cfg.HooksDir != filepath.Join(cfg.DataDir, "hooks") {
		t.Errorf("HooksDir = %q, want under data dir", cfg.HooksDir)
	}
	if cfg.HookTimeout != def.HookTimeout {
		t.Errorf("HookTimeout = %v, want %v", cfg.HookTimeout, def.HookTimeout)
	}
	if cfg.DecoderTimeout != def.DecoderTimeout {
		t.Errorf("DecoderTimeout = %v, want %v", cfg.DecoderTimeout, def.DecoderTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STEADYSCAN_DELETION_DELAY", "2s")
	t.Setenv("STEADYSCAN_CAMERA", "rtsp://dock-3/stream")

	cfg, err := Load(New(), writeConfig(t, "deletion_delay: 1s\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeletionDelay != 2*time.Second {
		t.Errorf("DeletionDelay = %v, want env value 2s", cfg.DeletionDelay)
	}
	if cfg.Camera != "rtsp://dock-3/stream" {
		t.Errorf("Camera = %q, want env value", cfg.Camera)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero delay", mutate: func(c *Config) { c.DeletionDelay = 0 }, wantErr: "deletion_delay"},
		{name: "zero fps", mutate: func(c *Config) { c.ScanFPS = 0 }, wantErr: "scan_fps"},
		{name: "idle above scan", mutate: func(c *Config) { c.IdleFPS = 30 }, wantErr: "idle_fps"},
		{name: "empty camera", mutate: func(c *Config) { c.Camera = "" }, wantErr: "camera"},
		{name: "unknown symbology", mutate: func(c *Config) { c.Symbologies = []string{"morse"} }, wantErr: "symbologies"},
		{name: "no symbologies", mutate: func(c *Config) { c.Symbologies = nil }, wantErr: "symbologies"},
		{name: "linear without decoder", mutate: func(c *Config) { c.Symbologies = []string{"ean13"} }, wantErr: "decoder_command"},
		{name: "linear with decoder", mutate: func(c *Config) {
			c.Symbologies = []string{"ean13"}
			c.DecoderCommand = []string{"decoder"}
		}},
		{name: "bad expansion", mutate: func(c *Config) { c.Expansion.Fallback = 0 }, wantErr: "expansion"},
		{name: "zero decoder timeout", mutate: func(c *Config) { c.DecoderTimeout = 0 }, wantErr: "decoder_timeout"},
		{name: "zero hook timeout", mutate: func(c *Config) { c.HookTimeout = 0 }, wantErr: "hook_timeout"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "chatty" }, wantErr: "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
