package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/detector"
	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/timeutil"
)

// Publisher accepts one detection result per frame.
type Publisher interface {
	PushResult(ctx context.Context, res payload.Result) error
}

// ScannerConfig controls scan pacing.
type ScannerConfig struct {
	// IdleFPS is the scan rate while the scene is still.
	IdleFPS int
	// ActiveFPS is the scan rate while the scene is changing.
	ActiveFPS int
	// IdleTimeout is how long the scene must stay still before dropping back
	// to IdleFPS.
	IdleTimeout time.Duration
	// Motion enables motion-driven pacing. When nil the scanner runs at
	// ActiveFPS.
	Motion *MotionConfig
	Clock  timeutil.Clock
}

// DefaultScannerConfig returns the default pacing: 5 fps idle, 15 fps active.
func DefaultScannerConfig() ScannerConfig {
	motion := DefaultMotionConfig()
	return ScannerConfig{
		IdleFPS:     5,
		ActiveFPS:   15,
		IdleTimeout: 2 * time.Second,
		Motion:      &motion,
		Clock:       timeutil.RealClock{},
	}
}

// ScannerStats are running scan counters.
type ScannerStats struct {
	Frames     int  `json:"frames"`
	Published  int  `json:"published"`
	Skipped    int  `json:"skipped"`
	Detections int  `json:"detections"`
	Active     bool `json:"active"`
}

// Scanner reads frames, runs the detector and publishes one result per frame.
// A frame that cannot be read or decoded is skipped entirely, so it never
// reports entities as missing.
type Scanner struct {
	camera    Camera
	detector  detector.Detector
	publisher Publisher
	motion    *MotionDetector
	cfg       ScannerConfig
	logger    zerolog.Logger

	mu         sync.Mutex
	active     bool
	lastMotion time.Time
	stats      ScannerStats
}

// NewScanner creates a scanner. The camera must be opened by the caller.
func NewScanner(cam Camera, det detector.Detector, pub Publisher, cfg ScannerConfig) *Scanner {
	def := DefaultScannerConfig()
	if cfg.IdleFPS <= 0 {
		cfg.IdleFPS = def.IdleFPS
	}
	if cfg.ActiveFPS <= 0 {
		cfg.ActiveFPS = def.ActiveFPS
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	s := &Scanner{
		camera:    cam,
		detector:  det,
		publisher: pub,
		cfg:       cfg,
		logger:    logging.For("scanner"),
	}
	if cfg.Motion != nil {
		s.motion = NewMotionDetector(*cfg.Motion)
	} else {
		s.active = true
	}
	s.lastMotion = cfg.Clock.Now()
	return s
}

// Run scans until ctx is cancelled or the source runs out of frames.
func (s *Scanner) Run(ctx context.Context) error {
	defer func() {
		if s.motion != nil {
			s.motion.Close()
		}
	}()

	fps := s.currentFPS()
	s.camera.SetFPS(fps)
	ticker := s.cfg.Clock.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	s.logger.Info().Int("fps", fps).Msg("scanner started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scanner stopped")
			return nil
		case <-ticker.C():
			err := s.Step(ctx)
			if errors.Is(err, ErrNoMoreFrames) {
				s.logger.Info().Msg("source exhausted")
				return nil
			}
			if err != nil && ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			if next := s.currentFPS(); next != fps {
				fps = next
				s.camera.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
			}
		}
	}
}

// Step processes a single frame. Read and detection errors are logged and the
// frame skipped; only end of input and publish failures are returned.
func (s *Scanner) Step(ctx context.Context) error {
	frame, err := s.camera.ReadFrame()
	if errors.Is(err, ErrNoMoreFrames) {
		return err
	}
	if err != nil {
		s.skip()
		s.logger.Warn().Err(err).Msg("failed to read frame")
		return nil
	}
	defer frame.Close()

	s.updateMotion(frame)

	res, err := s.detector.Detect(frame)
	if err != nil {
		s.skip()
		s.logger.Warn().Err(err).Msg("detection failed")
		return nil
	}

	if err := s.publisher.PushResult(ctx, res); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.Frames++
	s.stats.Published++
	s.stats.Detections += len(res.Detections)
	s.mu.Unlock()

	for _, d := range res.Detections {
		s.logger.Debug().
			Str("symbology", d.Payload.Symbology.String()).
			Str("value", d.Payload.Value).
			Msg("detected")
	}
	return nil
}

func (s *Scanner) updateMotion(frame *gocv.Mat) {
	if s.motion == nil {
		return
	}
	moved, changed := s.motion.Detect(frame)
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if moved {
		s.lastMotion = now
		if !s.active {
			s.active = true
			s.logger.Debug().Float64("changed", changed).Msg("switched to active mode")
		}
		return
	}
	if s.active && now.Sub(s.lastMotion) > s.cfg.IdleTimeout {
		s.active = false
		s.logger.Debug().Msg("switched to idle mode")
	}
}

func (s *Scanner) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Frames++
	s.stats.Skipped++
}

func (s *Scanner) currentFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return s.cfg.ActiveFPS
	}
	return s.cfg.IdleFPS
}

// Active reports whether the scanner is in active mode.
func (s *Scanner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stats returns a snapshot of the scan counters.
func (s *Scanner) Stats() ScannerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Active = s.active
	return st
}
