// Package pipeline runs the tracking and smoothing stages on a single goroutine
// and fans the stabilized changes out to subscribers.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/smoothing"
	"github.com/ayusman/steadyscan/internal/timeutil"
	"github.com/ayusman/steadyscan/internal/tracking"
)

var (
	// ErrStopped is returned when the pipeline is no longer running.
	ErrStopped = errors.New("pipeline stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// Config holds pipeline settings.
type Config struct {
	// DeletionDelay is how long a missing entity is kept before it is reported
	// as disappeared. Only used when Smoothing is enabled.
	DeletionDelay time.Duration
	// Smoothing enables the smoothing stage. When false, raw tracking changes
	// are published.
	Smoothing bool
	Expansion geometry.Expansion
	Clock     timeutil.Clock
	// Buffer is the input queue length in frames.
	Buffer int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		DeletionDelay: smoothing.DefaultConfig().DeletionDelay,
		Smoothing:     true,
		Expansion:     geometry.DefaultExpansion(),
		Clock:         timeutil.RealClock{},
		Buffer:        64,
	}
}

// Stats are running counters, read with Pipeline.Stats.
type Stats struct {
	Frames     int `json:"frames"`
	Violations int `json:"violations"`
	Published  int `json:"published"`
	Tracked    int `json:"tracked"`
	Pending    int `json:"pending"`
}

// message is either a batch of frame events or a function to run.
type message struct {
	events []payload.FrameEvent
	fn     func()
	done   chan struct{}
}

type subscriber struct {
	id uint64
	fn func(tracking.Change)
}

// Pipeline owns the tracking and smoothing state. All state changes and all
// subscriber callbacks happen on the goroutine executing Run.
type Pipeline struct {
	cfg      Config
	clock    timeutil.Clock
	tracker  *tracking.Tracker
	smoother *smoothing.Smoother
	logger   zerolog.Logger

	input chan message
	done  chan struct{}
	once  sync.Once

	mu      sync.RWMutex
	subs    []subscriber
	nextSub uint64

	stats Stats
}

// New creates a pipeline. Zero config fields take their defaults.
func New(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.DeletionDelay <= 0 {
		cfg.DeletionDelay = def.DeletionDelay
	}
	if cfg.Expansion.Fallback <= 0 {
		cfg.Expansion = def.Expansion
	}

	return &Pipeline{
		cfg:     cfg,
		clock:   cfg.Clock,
		tracker: tracking.NewTracker(cfg.Expansion),
		smoother: smoothing.New(smoothing.Config{
			DeletionDelay: cfg.DeletionDelay,
			Expansion:     cfg.Expansion,
		}),
		logger: logging.For("pipeline"),
		input:  make(chan message, cfg.Buffer),
		done:   make(chan struct{}),
	}
}

// Subscribe registers fn to receive every change published from now on, in
// order. fn runs on the pipeline goroutine and must not block or call Do.
// The returned function removes the subscription.
func (p *Pipeline) Subscribe(fn func(tracking.Change)) (unsubscribe func()) {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs = append(p.subs, subscriber{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

// Push queues a single frame event. It blocks while the queue is full.
func (p *Pipeline) Push(ctx context.Context, ev payload.FrameEvent) error {
	return p.send(ctx, message{events: []payload.FrameEvent{ev}})
}

// PushResult queues a whole frame: FrameStarted, one Detected per detection,
// then FrameEnded. The frame is processed as a unit.
func (p *Pipeline) PushResult(ctx context.Context, res payload.Result) error {
	return p.send(ctx, message{events: res.Events()})
}

// Do runs fn on the pipeline goroutine after everything queued before it and
// waits for it to return.
func (p *Pipeline) Do(ctx context.Context, fn func()) error {
	m := message{fn: fn, done: make(chan struct{})}
	if err := p.send(ctx, m); err != nil {
		return err
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case <-m.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.Do(ctx, func() {
		s = p.stats
		s.Tracked = p.tracker.Len()
		if p.cfg.Smoothing {
			s.Tracked = p.smoother.Len()
			s.Pending = p.smoother.Pending()
		}
	})
	return s, err
}

// Done is closed once Run has returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) send(ctx context.Context, m message) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}
	select {
	case p.input <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrStopped
	}
}

// Run processes queued frames and deletion deadlines until ctx is cancelled.
// On exit every live entity is reported as disappeared.
func (p *Pipeline) Run(ctx context.Context) error {
	first := false
	p.once.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	defer close(p.done)

	timer := p.clock.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	p.logger.Info().
		Bool("smoothing", p.cfg.Smoothing).
		Dur("deletion_delay", p.cfg.DeletionDelay).
		Msg("pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil

		case m := <-p.input:
			p.expireDue()
			if m.fn != nil {
				m.fn()
				close(m.done)
			} else {
				for _, ev := range m.events {
					p.handle(ev)
				}
			}
			p.rearm(timer)

		case <-timer.C():
			p.expireDue()
			p.rearm(timer)
		}
	}
}

func (p *Pipeline) handle(ev payload.FrameEvent) {
	changes, err := p.tracker.Process(ev)
	if err != nil {
		p.stats.Violations++
		p.logger.Warn().Err(err).Str("event", ev.Kind.String()).Msg("frame contract violation")
		return
	}
	if ev.Kind == payload.FrameEnded {
		p.stats.Frames++
	}
	if len(changes) == 0 {
		return
	}

	if !p.cfg.Smoothing {
		p.publish(changes)
		return
	}

	now := p.clock.Now()
	for _, c := range changes {
		out, err := p.smoother.Process(c, now)
		if err != nil {
			p.stats.Violations++
			p.logger.Warn().Err(err).Str("id", c.ID.String()).Msg("dropping change")
			continue
		}
		p.publish(out)
	}
}

// expireDue finalizes deletions whose deadline has passed. Running it before
// every message keeps a late timer from letting a frame revive an expired entity.
func (p *Pipeline) expireDue() {
	if !p.cfg.Smoothing {
		return
	}
	p.publish(p.smoother.Expire(p.clock.Now()))
}

func (p *Pipeline) rearm(timer timeutil.Timer) {
	if !p.cfg.Smoothing {
		return
	}
	next, ok := p.smoother.NextDeadline()
	if !ok {
		timer.Stop()
		return
	}
	timer.Reset(next.Sub(p.clock.Now()))
}

func (p *Pipeline) shutdown() {
	var final []tracking.Change
	if p.cfg.Smoothing {
		final = p.smoother.Flush()
		p.tracker.Flush()
	} else {
		final = p.tracker.Flush()
	}
	p.publish(final)

	p.logger.Info().
		Int("frames", p.stats.Frames).
		Int("published", p.stats.Published).
		Int("violations", p.stats.Violations).
		Msg("pipeline stopped")
}

func (p *Pipeline) publish(changes []tracking.Change) {
	if len(changes) == 0 {
		return
	}
	p.mu.RLock()
	subs := make([]subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, c := range changes {
		p.stats.Published++
		p.logger.Debug().
			Str("kind", c.Kind.String()).
			Str("id", c.ID.String()).
			Msg("change")
		for _, s := range subs {
			s.fn(c)
		}
	}
}
