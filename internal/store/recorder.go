package store

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/timeutil"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// DefaultRecorderQueue is the default number of buffered changes.
const DefaultRecorderQueue = 256

// Recorder writes stabilized changes to the sighting ledger on its own
// goroutine so a slow disk never stalls the pipeline.
type Recorder struct {
	repo   *SightingRepository
	clock  timeutil.Clock
	logger zerolog.Logger

	queue chan stamped
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
	failed  int
}

type stamped struct {
	change tracking.Change
	at     time.Time
}

// NewRecorder starts a recorder writing to repo. A nil clock uses the real
// clock; a non-positive queue size uses DefaultRecorderQueue.
func NewRecorder(repo *SightingRepository, clock timeutil.Clock, queue int) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if queue <= 0 {
		queue = DefaultRecorderQueue
	}
	r := &Recorder{
		repo:   repo,
		clock:  clock,
		logger: logging.For("recorder"),
		queue:  make(chan stamped, queue),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record queues a change. It never blocks: when the queue is full the change
// is dropped and counted.
func (r *Recorder) Record(c tracking.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- stamped{change: c, at: r.clock.Now()}:
	default:
		r.dropped++
		r.logger.Warn().Str("id", c.ID.String()).Str("kind", c.Kind.String()).Msg("recorder queue full, change dropped")
	}
}

// Close stops accepting changes, writes everything already queued and waits
// for the writer to finish.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

// Dropped returns how many changes were discarded because the queue was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Failed returns how many changes could not be written.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Recorder) loop() {
	defer close(r.done)
	for s := range r.queue {
		if err := r.write(s); err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			r.logger.Error().Err(err).Str("id", s.change.ID.String()).Str("kind", s.change.Kind.String()).Msg("failed to record change")
		}
	}
}

func (r *Recorder) write(s stamped) error {
	c := s.change
	id := c.ID.String()
	switch c.Kind {
	case tracking.Appeared:
		return r.repo.Open(&Sighting{
			ID:        id,
			Symbology: c.Payload.Symbology.String(),
			Value:     c.Payload.Value,
			FirstSeen: s.at,
		})
	case tracking.Moved:
		return r.repo.Touch(id, s.at)
	case tracking.Disappeared:
		return r.repo.End(id, s.at)
	default:
		return errors.New("unknown change kind")
	}
}
