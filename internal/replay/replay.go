package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/steadyscan/internal/pipeline"
	"github.com/ayusman/steadyscan/internal/timeutil"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// Record is a published change and when it happened, relative to the first
// frame.
type Record struct {
	Offset time.Duration   `json:"offset"`
	Change tracking.Change `json:"change"`
}

// Run plays sc through a fresh pipeline built from cfg. After the last frame
// the clock runs on for the deletion delay so pending deletions complete;
// anything still visible after that is flushed when the pipeline stops.
func Run(ctx context.Context, sc *Scenario, cfg pipeline.Config) ([]Record, error) {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)

	cfg.Clock = clock
	if sc.DeletionDelay > 0 {
		cfg.DeletionDelay = time.Duration(sc.DeletionDelay)
	}
	if sc.Smoothing != nil {
		cfg.Smoothing = *sc.Smoothing
	}
	p := pipeline.New(cfg)

	var records []Record
	p.Subscribe(func(c tracking.Change) {
		records = append(records, Record{Offset: clock.Now().Sub(start), Change: c})
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(runCtx) }()

	barrier := func() error { return p.Do(ctx, func() {}) }
	interval := time.Duration(sc.FrameInterval)

	for i, res := range sc.Frames {
		if err := p.PushResult(ctx, res); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if err := barrier(); err != nil {
			return nil, err
		}
		clock.Advance(interval)
	}

	delay := time.Duration(cfg.DeletionDelay)
	if delay <= 0 {
		delay = pipeline.DefaultConfig().DeletionDelay
	}
	clock.Advance(delay)
	if err := barrier(); err != nil {
		return nil, err
	}

	cancel()
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}

// Kinds returns the change kinds of records in order.
func Kinds(records []Record) []tracking.Kind {
	kinds := make([]tracking.Kind, len(records))
	for i, r := range records {
		kinds[i] = r.Change.Kind
	}
	return kinds
}
