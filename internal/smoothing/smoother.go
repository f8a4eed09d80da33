// Package smoothing debounces disappearances from the tracking stage so that an
// entity missed for a few frames keeps a single stable identity.
package smoothing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/tracking"
)

var (
	// ErrUnknownID is returned for a Moved or Disappeared whose upstream id was
	// never announced by an Appeared.
	ErrUnknownID = errors.New("unknown upstream id")
	// ErrDuplicateID is returned for an Appeared that reuses a live upstream id.
	ErrDuplicateID = errors.New("duplicate upstream id")
)

// Config holds smoothing parameters.
type Config struct {
	// DeletionDelay is how long a disappeared entity may stay missing before
	// its disappearance is reported downstream.
	DeletionDelay time.Duration
	Expansion     geometry.Expansion
}

// DefaultConfig returns the default smoothing configuration.
func DefaultConfig() Config {
	return Config{
		DeletionDelay: 500 * time.Millisecond,
		Expansion:     geometry.DefaultExpansion(),
	}
}

type record struct {
	upstream uuid.UUID
	payload  payload.Payload
	metadata payload.Metadata
}

// Smoother maps churning upstream ids onto stable ids. Time is supplied by the
// caller, which must also call Expire once NextDeadline has passed. It is not
// safe for concurrent use.
type Smoother struct {
	cfg Config

	translation map[uuid.UUID]uuid.UUID // upstream -> stable
	pending     map[uuid.UUID]time.Time // upstream -> deletion deadline
	history     []record
}

// New creates a smoother.
func New(cfg Config) *Smoother {
	return &Smoother{
		cfg:         cfg,
		translation: make(map[uuid.UUID]uuid.UUID),
		pending:     make(map[uuid.UUID]time.Time),
	}
}

// Process consumes one upstream change observed at now and returns the
// stabilized changes it produces.
func (s *Smoother) Process(c tracking.Change, now time.Time) ([]tracking.Change, error) {
	switch c.Kind {
	case tracking.Appeared:
		if _, ok := s.translation[c.ID]; ok {
			return nil, fmt.Errorf("appeared %s: %w", c.ID, ErrDuplicateID)
		}
		return []tracking.Change{s.register(c)}, nil

	case tracking.Moved:
		stable, ok := s.translation[c.ID]
		if !ok {
			return nil, fmt.Errorf("moved %s: %w", c.ID, ErrUnknownID)
		}
		if i := s.indexOf(c.ID); i >= 0 {
			s.history[i].metadata = c.Metadata
		}
		return []tracking.Change{tracking.MovedChange(stable, c.Metadata)}, nil

	case tracking.Disappeared:
		if _, ok := s.translation[c.ID]; !ok {
			return nil, fmt.Errorf("disappeared %s: %w", c.ID, ErrUnknownID)
		}
		s.pending[c.ID] = now.Add(s.cfg.DeletionDelay)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown change kind %v", c.Kind)
	}
}

// register links a new upstream id either to the stable id of a matching entity
// that is pending deletion, or to a fresh stable id.
func (s *Smoother) register(c tracking.Change) tracking.Change {
	var out tracking.Change

	if i := s.pendingMatch(c.Payload, c.Metadata); i >= 0 {
		old := s.history[i].upstream
		stable := s.translation[old]

		delete(s.pending, old)
		delete(s.translation, old)
		s.history = append(s.history[:i], s.history[i+1:]...)

		s.translation[c.ID] = stable
		out = tracking.MovedChange(stable, c.Metadata)
	} else {
		stable := uuid.New()
		s.translation[c.ID] = stable
		out = tracking.AppearedChange(stable, c.Payload, c.Metadata)
	}

	s.history = append(s.history, record{upstream: c.ID, payload: c.Payload, metadata: c.Metadata})
	return out
}

func (s *Smoother) pendingMatch(p payload.Payload, m payload.Metadata) int {
	for i, r := range s.history {
		if _, ok := s.pending[r.upstream]; !ok {
			continue
		}
		if r.payload == p && payload.Overlaps(s.cfg.Expansion, r.metadata, m) {
			return i
		}
	}
	return -1
}

func (s *Smoother) indexOf(upstream uuid.UUID) int {
	for i, r := range s.history {
		if r.upstream == upstream {
			return i
		}
	}
	return -1
}

// Expire finalizes every pending deletion whose deadline is at or before now,
// earliest deadline first.
func (s *Smoother) Expire(now time.Time) []tracking.Change {
	type due struct {
		upstream uuid.UUID
		deadline time.Time
		order    int
	}

	var ready []due
	for i, r := range s.history {
		if deadline, ok := s.pending[r.upstream]; ok && !deadline.After(now) {
			ready = append(ready, due{upstream: r.upstream, deadline: deadline, order: i})
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].deadline.Equal(ready[j].deadline) {
			return ready[i].deadline.Before(ready[j].deadline)
		}
		return ready[i].order < ready[j].order
	})

	out := make([]tracking.Change, 0, len(ready))
	for _, d := range ready {
		stable := s.translation[d.upstream]
		delete(s.pending, d.upstream)
		delete(s.translation, d.upstream)
		if i := s.indexOf(d.upstream); i >= 0 {
			s.history = append(s.history[:i], s.history[i+1:]...)
		}
		out = append(out, tracking.DisappearedChange(stable))
	}
	return out
}

// NextDeadline returns the earliest pending deletion deadline.
func (s *Smoother) NextDeadline() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, deadline := range s.pending {
		if !found || deadline.Before(next) {
			next, found = deadline, true
		}
	}
	return next, found
}

// Flush reports every stable id still alive as disappeared, in the order the
// entities were registered, and resets all state.
func (s *Smoother) Flush() []tracking.Change {
	out := make([]tracking.Change, 0, len(s.history))
	for _, r := range s.history {
		out = append(out, tracking.DisappearedChange(s.translation[r.upstream]))
	}
	s.history = nil
	s.translation = make(map[uuid.UUID]uuid.UUID)
	s.pending = make(map[uuid.UUID]time.Time)
	return out
}

// Len returns the number of entities not yet finalized, including those pending
// deletion.
func (s *Smoother) Len() int {
	return len(s.history)
}

// Pending returns the number of entities awaiting deletion.
func (s *Smoother) Pending() int {
	return len(s.pending)
}
