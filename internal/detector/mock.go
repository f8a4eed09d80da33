package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/payload"
)

// MockDetector is a test implementation of the Detector interface.
// It replays a scripted sequence of results, one per Detect call, and keeps
// returning the last one once the script is exhausted.
type MockDetector struct {
	mu      sync.Mutex
	results []payload.Result
	index   int
	err     error
	calls   int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector(results ...payload.Result) *MockDetector {
	return &MockDetector{results: results}
}

// SetResults replaces the script and restarts it.
func (m *MockDetector) SetResults(results ...payload.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	m.index = 0
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next scripted result or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) (payload.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return payload.Result{}, m.err
	}
	if len(m.results) == 0 {
		return payload.Result{}, nil
	}

	res := m.results[m.index]
	if m.index < len(m.results)-1 {
		m.index++
	}
	return res, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
