// Package capture provides frame sources backed by GoCV (OpenCV): live camera
// devices, looping video files and an in-memory mock.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture resolution.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

var (
	// ErrCameraNotOpen is returned when trying to read from a source that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrReadFailed is returned when the device or file produced no frame.
	ErrReadFailed = errors.New("failed to read frame")

	// ErrEmptyFrame is returned when a read succeeded but the frame has no pixels.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Camera is a frame source. One frame is delivered per ReadFrame call.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame reads a single frame. The caller owns the returned Mat and
	// must close it.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
	// Describe returns a short human readable description of the source.
	Describe() string
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	width    int
	height   int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
}

// NewCamera creates a Camera for the given device ID. The requested
// resolution is applied on Open; non-positive values fall back to the
// defaults.
func NewCamera(deviceID, width, height int) Camera {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	return &cameraImpl{
		deviceID: deviceID,
		width:    width,
		height:   height,
	}
}

// Open opens the camera device and requests the configured resolution.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.deviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("camera %d: %w", c.deviceID, ErrReadFailed)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("camera %d: %w", c.deviceID, ErrEmptyFrame)
	}

	return &mat, nil
}

// IsOpen returns true if the camera is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

func (c *cameraImpl) Describe() string {
	return fmt.Sprintf("camera:%d@%dx%d", c.deviceID, c.width, c.height)
}
