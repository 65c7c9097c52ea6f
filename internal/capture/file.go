package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// fileSource plays a video file and loops back to the first frame when the
// end of the stream is reached. End of stream is never surfaced to callers.
type fileSource struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	loops   int
}

// NewFileSource creates a Camera that replays the video at path forever.
func NewFileSource(path string) Camera {
	return &fileSource{path: path}
}

func (f *fileSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return nil
	}

	capture, err := gocv.VideoCaptureFile(f.path)
	if err != nil {
		return fmt.Errorf("open video file %s: %w", f.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open video file %s: %w", f.path, ErrCameraNotOpen)
	}

	f.capture = capture
	f.running = true
	f.loops = 0

	return nil
}

func (f *fileSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running || f.capture == nil {
		f.running = false
		return nil
	}

	err := f.capture.Close()
	f.capture = nil
	f.running = false

	return err
}

// ReadFrame reads the next frame, rewinding to the start of the file once
// when the stream is exhausted.
func (f *fileSource) ReadFrame() (*gocv.Mat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running || f.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := f.capture.Read(&mat); ok && !mat.Empty() {
		return &mat, nil
	}

	// end of stream: rewind and retry once
	f.capture.Set(gocv.VideoCapturePosFrames, 0)
	f.loops++

	if ok := f.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("video file %s: %w", f.path, ErrReadFailed)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("video file %s: %w", f.path, ErrEmptyFrame)
	}

	return &mat, nil
}

func (f *fileSource) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}

func (f *fileSource) Describe() string {
	return "file:" + f.path
}
