package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/payload"
)

// ServiceDetector implements Detector by streaming frames to an external
// decoder process. Each request is a 4-byte big-endian length followed by a
// JPEG; each response is one JSON line:
//
//	{"detections":[{"symbology":"ean13","value":"...","corners":[[x,y],...]}]}
//
// Corners are in pixels. The process is started lazily and stopped after
// IdleTimeout without requests. An exchange that takes longer than
// ReadTimeout kills the process; the next Detect starts a fresh one.
type ServiceDetector struct {
	config    Config
	logger    zerolog.Logger
	cmd       *exec.Cmd
	stdin     *os.File
	pipe      *os.File
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
	// idleGen invalidates idle timers that fired while a request held mu.
	idleGen uint64
}

// stopGrace is how long a decoder may take to exit once its stdin closes.
const stopGrace = 2 * time.Second

// NewServiceDetector creates a detector for the decoder command in config.
func NewServiceDetector(config Config) (*ServiceDetector, error) {
	if len(config.Command) == 0 {
		return nil, errors.New("decoder command is empty")
	}
	if config.Symbologies.IsEmpty() {
		return nil, errors.New("no symbologies configured")
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	return &ServiceDetector{
		config: config,
		logger: logging.For("detector"),
	}, nil
}

// Detect sends the frame to the decoder and returns what it found, limited to
// the configured symbologies.
func (d *ServiceDetector) Detect(frame *gocv.Mat) (payload.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := payload.Result{LookedFor: d.config.Symbologies}

	if frame == nil || frame.Empty() {
		return result, errors.New("empty frame")
	}

	if err := d.ensureStarted(); err != nil {
		return result, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return result, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	deadline := time.Now().Add(d.config.ReadTimeout)
	d.stdin.SetWriteDeadline(deadline)
	d.pipe.SetReadDeadline(deadline)

	if _, err := d.stdin.Write(length); err != nil {
		d.kill()
		return result, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.kill()
		return result, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.kill()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return result, fmt.Errorf("decoder timed out after %s", d.config.ReadTimeout)
		}
		return result, fmt.Errorf("read response: %w", err)
	}

	dets, err := decodeServiceResponse(line, d.config.Symbologies, frame.Cols(), frame.Rows())
	if err != nil {
		return result, err
	}
	result.Detections = dets

	d.resetIdleTimer()
	return result, nil
}

// Close shuts down the decoder process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	cmd := exec.Command(d.config.Command[0], d.config.Command[1:]...)

	// Plain os.Pipe ends support deadlines, unlike the exec pipe helpers.
	inR, inW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = os.Stderr

	err = cmd.Start()
	inR.Close()
	outW.Close()
	if err != nil {
		inW.Close()
		outR.Close()
		return fmt.Errorf("start decoder service: %w", err)
	}

	d.cmd = cmd
	d.stdin = inW
	d.pipe = outR
	d.stdout = bufio.NewReader(outR)
	d.started = true

	d.logger.Info().Strs("command", d.config.Command).Msg("decoder service started")
	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	d.idleGen++
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	d.stdin.Close()

	exited := make(chan error, 1)
	go func() { exited <- d.cmd.Wait() }()

	var err error
	select {
	case err = <-exited:
	case <-time.After(stopGrace):
		d.logger.Warn().Msg("decoder service ignored stdin close, killing")
		d.cmd.Process.Kill()
		err = <-exited
	}
	d.pipe.Close()

	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.pipe = nil
	d.stdout = nil

	d.logger.Info().Msg("decoder service stopped")
	return err
}

// kill stops a decoder that can no longer be trusted to answer.
func (d *ServiceDetector) kill() {
	if !d.started {
		return
	}
	d.cmd.Process.Kill()
	d.shutdown()
}

func (d *ServiceDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleGen++
	gen := d.idleGen
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.idleGen {
			return
		}
		d.shutdown()
	})
}

type serviceResponse struct {
	Detections []serviceDetection `json:"detections"`
}

type serviceDetection struct {
	Symbology string       `json:"symbology"`
	Value     string       `json:"value"`
	Corners   [][2]float64 `json:"corners"`
}

// decodeServiceResponse parses one response line. Detections of unknown or
// unrequested symbologies are dropped.
func decodeServiceResponse(line []byte, allowed payload.Symbologies, width, height int) ([]payload.Detection, error) {
	var resp serviceResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	dets := make([]payload.Detection, 0, len(resp.Detections))
	for _, sd := range resp.Detections {
		sym, err := payload.ParseSymbology(sd.Symbology)
		if err != nil || !allowed.Contains(sym) {
			continue
		}
		det := payload.Detection{Payload: payload.Payload{Symbology: sym, Value: sd.Value}}
		if region, ok := cornersToRegion(sd.Corners, width, height); ok {
			det.Metadata = payload.WithRegion(region)
		}
		dets = append(dets, det)
	}
	return dets, nil
}
