package pose

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long the external estimator may sit unused
// before it is shut down. It is restarted on the next call.
const DefaultIdleTimeout = 30 * time.Second

// ProcessEstimator implements Estimator by talking to an external model
// process over stdin/stdout.
//
// Each request is two length-prefixed frames (4-byte big-endian length,
// then payload): a JSON-encoded Options followed by the JPEG-encoded
// buffer. The process answers with one JSON line of the form
// {"keypoints":[{"part":"leftWrist","x":1,"y":2,"score":0.9}],"error":""}.
type ProcessEstimator struct {
	command     []string
	idleTimeout time.Duration
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	mu          sync.Mutex
	started     bool
	idleTimer   *time.Timer
}

// NewProcessEstimator creates an estimator for the given command line.
// The process is started lazily on first Estimate.
func NewProcessEstimator(command []string) (*ProcessEstimator, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("%w: no estimator command configured", ErrModelLoad)
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	return &ProcessEstimator{
		command:     command,
		idleTimeout: DefaultIdleTimeout,
	}, nil
}

// SetIdleTimeout changes the idle shutdown delay. Non-positive values are ignored.
func (p *ProcessEstimator) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleTimeout = d
}

// Estimate sends the buffer to the external process and parses its answer.
func (p *ProcessEstimator) Estimate(ctx context.Context, buf *gocv.Mat, opts Options) ([]Keypoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Empty() {
		return nil, fmt.Errorf("%w: empty input", ErrInference)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	header, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: encode options: %w", ErrInference, err)
	}

	encoded, err := gocv.IMEncode(".jpg", *buf)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %w", ErrInference, err)
	}
	defer encoded.Close()

	// The exchange runs aside so a cancelled ctx can kill the process
	// instead of waiting for its answer.
	stdin, stdout := p.stdin, p.stdout
	done := make(chan exchangeResult, 1)
	go func() {
		line, err := exchange(stdin, stdout, header, encoded.GetBytes())
		done <- exchangeResult{line: line, err: err}
	}()

	var line string
	select {
	case res := <-done:
		if res.err != nil {
			p.shutdown()
			return nil, fmt.Errorf("%w: %w", ErrInference, res.err)
		}
		line = res.line
	case <-ctx.Done():
		// Wait closes the pipes, which unblocks the exchange
		p.cmd.Process.Kill()
		p.shutdown()
		<-done
		return nil, ctx.Err()
	}

	var response struct {
		Keypoints []jsonKeypoint `json:"keypoints"`
		Error     string         `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrInference, err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInference, response.Error)
	}

	keypoints := make([]Keypoint, len(response.Keypoints))
	for i, kp := range response.Keypoints {
		keypoints[i] = kp.toKeypoint()
	}

	p.resetIdleTimer()

	return sanitize(keypoints), nil
}

// Close shuts down the external process.
func (p *ProcessEstimator) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown()
}

// Running reports whether the external process is currently started.
func (p *ProcessEstimator) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

type exchangeResult struct {
	line string
	err  error
}

// exchange writes one request and reads the answer line.
func exchange(w io.Writer, r *bufio.Reader, header, frame []byte) (string, error) {
	if err := writeFrame(w, header); err != nil {
		return "", fmt.Errorf("write options: %w", err)
	}
	if err := writeFrame(w, frame); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))

	if _, err := w.Write(length); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func (p *ProcessEstimator) ensureStarted() error {
	if p.started {
		return nil
	}

	p.cmd = exec.Command(p.command[0], p.command[1:]...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdin pipe: %w", ErrInference, err)
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdout pipe: %w", ErrInference, err)
	}

	p.cmd.Stderr = os.Stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start estimator process: %w", ErrInference, err)
	}

	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	p.started = true

	return nil
}

func (p *ProcessEstimator) shutdown() error {
	if !p.started {
		return nil
	}

	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}

	if p.stdin != nil {
		p.stdin.Close()
	}

	err := p.cmd.Wait()
	p.started = false
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil

	return err
}

func (p *ProcessEstimator) resetIdleTimer() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.shutdown()
	})
}

type jsonKeypoint struct {
	Part  string  `json:"part"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

func (k jsonKeypoint) toKeypoint() Keypoint {
	return Keypoint{
		Part:     Part(k.Part),
		Position: Point{X: k.X, Y: k.Y},
		Score:    k.Score,
	}
}
