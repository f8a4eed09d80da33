package hook

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// DefaultQueue is the default number of buffered changes.
const DefaultQueue = 64

// Dispatcher runs matching hooks for each change, one at a time and in the
// order the changes were published.
type Dispatcher struct {
	hooks    []*Hook
	executor *Executor
	logger   zerolog.Logger

	queue chan tracking.Change
	done  chan struct{}
	// payloads is owned by the run goroutine.
	payloads map[uuid.UUID]payload.Payload

	mu      sync.Mutex
	closed  bool
	dropped int
	failed  int
	runs    int
}

// NewDispatcher starts a dispatcher for hooks. A non-positive queue size uses
// DefaultQueue.
func NewDispatcher(hooks []*Hook, executor *Executor, queue int) *Dispatcher {
	if queue <= 0 {
		queue = DefaultQueue
	}
	d := &Dispatcher{
		hooks:    hooks,
		executor: executor,
		logger:   logging.For("hooks"),
		queue:    make(chan tracking.Change, queue),
		done:     make(chan struct{}),
		payloads: make(map[uuid.UUID]payload.Payload),
	}
	go d.run()
	return d
}

// Record queues a change. It never blocks: when the queue is full the change
// is dropped and counted.
func (d *Dispatcher) Record(c tracking.Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- c:
	default:
		d.dropped++
		d.logger.Warn().Str("id", c.ID.String()).Str("kind", c.Kind.String()).Msg("hook queue full, change dropped")
	}
}

// Close stops accepting changes, runs hooks for everything already queued and
// waits for them to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Dropped returns how many changes were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Failed returns how many hook runs errored or reported failure.
func (d *Dispatcher) Failed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// Runs returns how many hook runs completed successfully.
func (d *Dispatcher) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for c := range d.queue {
		p := c.Payload
		switch c.Kind {
		case tracking.Appeared:
			d.payloads[c.ID] = p
		default:
			p = d.payloads[c.ID]
		}
		if c.Kind == tracking.Disappeared {
			delete(d.payloads, c.ID)
		}

		for _, h := range d.hooks {
			if !h.Matches(c.Kind, p.Symbology) {
				continue
			}
			d.dispatch(h, c, p)
		}
	}
}

func (d *Dispatcher) dispatch(h *Hook, c tracking.Change, p payload.Payload) {
	req := &Request{
		Hook:    h.Manifest.Name,
		Change:  c,
		Payload: p,
		Config:  h.Manifest.Config,
	}
	resp, err := d.executor.Execute(context.Background(), h, req)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case err != nil:
		d.failed++
		d.logger.Error().Err(err).Str("hook", h.Manifest.Name).Str("id", c.ID.String()).Msg("hook failed")
	case !resp.Success:
		d.failed++
		d.logger.Warn().Str("hook", h.Manifest.Name).Str("id", c.ID.String()).Str("error", resp.Error).Msg("hook reported failure")
	default:
		d.runs++
	}
}
