package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back in-memory frames for testing. Failures can be
// injected per read index to exercise capture error handling.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	reads   int
	loop    bool
	failAt  map[int]error
	openErr error
	mu      sync.Mutex
	running bool
}

func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		failAt: make(map[int]error),
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	c.reads = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	read := c.reads
	c.reads++
	if err, ok := c.failAt[read]; ok {
		return nil, err
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available: %w", ErrReadFailed)
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames: %w", ErrReadFailed)
		}
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *MockCamera) Describe() string { return "mock" }

// FailRead makes the n-th ReadFrame call (zero based, counted since Open)
// return err instead of a frame.
func (c *MockCamera) FailRead(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		err = errors.New("injected capture failure")
	}
	c.failAt[n] = err
}

// FailOpen makes Open return err.
func (c *MockCamera) FailOpen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// Reads returns the number of ReadFrame calls since Open.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
