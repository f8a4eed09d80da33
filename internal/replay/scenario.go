// Package replay drives the tracking pipeline from recorded detection results
// on a simulated clock, so runs are reproducible and need no camera.
package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// DefaultFrameInterval is about 30 fps.
const DefaultFrameInterval = 33 * time.Millisecond

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Scenario is a recorded sequence of detector results.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// FrameInterval is the simulated time between frames.
	FrameInterval Duration `json:"frame_interval,omitempty"`
	// DeletionDelay overrides the pipeline's delay when set.
	DeletionDelay Duration `json:"deletion_delay,omitempty"`
	// Smoothing overrides whether the smoothing stage runs when set.
	Smoothing *bool `json:"smoothing,omitempty"`
	// Frames are played in order, one per FrameInterval.
	Frames []payload.Result `json:"frames"`
	// Expect optionally lists the change kinds the scenario should produce.
	Expect []tracking.Kind `json:"expect,omitempty"`
}

// Load decodes a scenario and fills in defaults.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if len(sc.Frames) == 0 {
		return nil, fmt.Errorf("scenario %q has no frames", sc.Name)
	}
	if sc.FrameInterval <= 0 {
		sc.FrameInterval = Duration(DefaultFrameInterval)
	}
	if sc.DeletionDelay < 0 {
		return nil, fmt.Errorf("scenario %q: deletion_delay must not be negative", sc.Name)
	}
	return &sc, nil
}
