// Package app wires capture, detection, tracking, persistence and the HTTP
// server into the running steadyscan application.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/steadyscan/internal/capture"
	"github.com/ayusman/steadyscan/internal/config"
	"github.com/ayusman/steadyscan/internal/detector"
	"github.com/ayusman/steadyscan/internal/hook"
	"github.com/ayusman/steadyscan/internal/inventory"
	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/pipeline"
	"github.com/ayusman/steadyscan/internal/server"
	"github.com/ayusman/steadyscan/internal/store"
	"github.com/ayusman/steadyscan/internal/timeutil"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options overrides collaborators, mainly for tests. Nil fields are built
// from the configuration.
type Options struct {
	Camera   capture.Camera
	Detector detector.Detector
	Clock    timeutil.Clock
	// NoServer disables the HTTP server.
	NoServer bool
}

// App is the main application that orchestrates scanning, tracking and
// publishing.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	camera    capture.Camera
	detector  detector.Detector
	pipeline  *pipeline.Pipeline
	scanner   *capture.Scanner
	inventory *inventory.Inventory
	store     *store.Store
	recorder  *store.Recorder
	hooks     *hook.Dispatcher
	server    *server.Server

	mu       sync.Mutex
	running  bool
	stopScan context.CancelFunc
	stopPipe context.CancelFunc
	stopped  bool
	scanDone chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// New builds the application from cfg. The sighting ledger is opened (and
// migrated) immediately; the camera is opened by Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	syms, err := cfg.SymbologySet()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	a := &App{
		cfg:      cfg,
		logger:   logging.For("app"),
		camera:   opts.Camera,
		detector: opts.Detector,
	}

	if a.camera == nil {
		a.camera = capture.NewCamera(cfg.Camera)
	}

	if a.detector == nil {
		if len(cfg.DecoderCommand) > 0 {
			dcfg := detector.DefaultConfig()
			dcfg.Symbologies = syms
			dcfg.Command = cfg.DecoderCommand
			dcfg.ReadTimeout = cfg.DecoderTimeout
			sd, err := detector.NewServiceDetector(dcfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create decoder service: %w", err)
			}
			a.detector = sd
			a.logger.Info().Strs("command", cfg.DecoderCommand).Msg("using external decoder service")
		} else {
			a.detector = detector.NewQRDetector()
			a.logger.Info().Msg("using built-in QR detector")
		}
	}

	a.pipeline = pipeline.New(pipeline.Config{
		DeletionDelay: cfg.DeletionDelay,
		Smoothing:     cfg.Smoothing,
		Expansion:     cfg.Expansion,
		Clock:         opts.Clock,
	})

	a.inventory = inventory.New(opts.Clock, inventory.NewCounter())
	a.pipeline.Subscribe(a.inventory.Apply)

	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			a.detector.Close()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		a.store, err = store.New(cfg.DBPath)
		if err != nil {
			a.detector.Close()
			return nil, err
		}
		// Sightings left open by a crash can never receive their Disappeared.
		if n, err := a.store.Sightings().EndAll(opts.Clock.Now()); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close stale sightings")
		} else if n > 0 {
			a.logger.Info().Int("count", n).Msg("closed stale sightings")
		}
		a.recorder = store.NewRecorder(a.store.Sightings(), opts.Clock, 0)
		a.pipeline.Subscribe(a.recorder.Record)
	}

	if cfg.HooksDir != "" {
		mgr := hook.NewManager(cfg.HooksDir)
		if err := mgr.Discover(); err != nil {
			a.logger.Warn().Err(err).Str("dir", cfg.HooksDir).Msg("failed to discover hooks")
		} else if hooks := mgr.List(); len(hooks) > 0 {
			a.hooks = hook.NewDispatcher(hooks, hook.NewExecutor(cfg.HookTimeout), 0)
			a.pipeline.Subscribe(a.hooks.Record)
			a.logger.Info().Int("count", len(hooks)).Str("dir", cfg.HooksDir).Msg("hooks loaded")
		}
	}

	scfg := capture.DefaultScannerConfig()
	scfg.ActiveFPS = cfg.ScanFPS
	scfg.IdleFPS = cfg.IdleFPS
	scfg.Clock = opts.Clock
	if !cfg.Motion {
		scfg.Motion = nil
	}
	a.scanner = capture.NewScanner(a.camera, a.detector, a.pipeline, scfg)

	if !opts.NoServer && cfg.Addr != "" {
		a.server = server.New(server.Config{
			StaticDir: cfg.StaticDir,
			Store:     a.store,
			Inventory: a.inventory,
			Events:    a.pipeline,
		})
	}

	return a, nil
}

// Start opens the camera and starts the pipeline, the scanner and the HTTP
// server. It returns immediately; use Done to learn when scanning ends.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if a.stopped {
		return errors.New("app already stopped")
	}

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}

	pipeCtx, stopPipe := context.WithCancel(context.Background())
	scanCtx, stopScan := context.WithCancel(ctx)
	a.stopPipe = stopPipe
	a.stopScan = stopScan
	a.scanDone = make(chan struct{})
	a.running = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.pipeline.Run(pipeCtx); err != nil {
			a.setErr(err)
		}
	}()

	go func() {
		defer close(a.scanDone)
		if err := a.scanner.Run(scanCtx); err != nil && !errors.Is(err, pipeline.ErrStopped) {
			a.setErr(err)
		}
	}()

	if a.server != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.Info().Str("addr", a.cfg.Addr).Msg("http server listening")
			if err := a.server.ListenAndServe(a.cfg.Addr); err != nil {
				a.logger.Error().Err(err).Msg("http server failed")
				a.setErr(err)
			}
		}()
	}

	a.logger.Info().
		Str("camera", a.cfg.Camera).
		Dur("deletion_delay", a.cfg.DeletionDelay).
		Bool("smoothing", a.cfg.Smoothing).
		Msg("scanning started")
	return nil
}

// Done is closed when scanning ends, either because the source ran out of
// frames or because Start's context was cancelled. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanDone
}

// Stop halts scanning, flushes the pipeline so every visible code is reported
// as disappeared, and releases all resources. It returns the first error seen
// while running.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return a.Err()
	}
	a.stopped = true

	if a.running {
		// Scanner first so its last frame is still processed.
		a.stopScan()
		<-a.scanDone
		a.stopPipe()
		<-a.pipeline.Done()

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("http server shutdown failed")
			}
			cancel()
		}
		a.wg.Wait()
		a.running = false
	}

	if err := a.camera.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("error closing camera")
	}
	if err := a.detector.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("error closing detector")
	}
	if a.recorder != nil {
		a.recorder.Close()
		if n := a.recorder.Dropped(); n > 0 {
			a.logger.Warn().Int("count", n).Msg("sighting changes dropped")
		}
	}
	if a.hooks != nil {
		a.hooks.Close()
		if n := a.hooks.Dropped(); n > 0 {
			a.logger.Warn().Int("count", n).Msg("hook changes dropped")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("error closing store")
		}
	}

	a.logger.Info().Msg("scanning stopped")
	return a.Err()
}

func (a *App) setErr(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// Err returns the first error seen while running.
func (a *App) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Pipeline returns the tracking pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Inventory returns the set of codes currently in view.
func (a *App) Inventory() *inventory.Inventory {
	return a.inventory
}

// Store returns the sighting ledger, or nil when persistence is disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// Hooks returns the hook dispatcher, or nil when no hooks were found.
func (a *App) Hooks() *hook.Dispatcher {
	return a.hooks
}

// Scanner returns the frame scanner.
func (a *App) Scanner() *capture.Scanner {
	return a.scanner
}
