package capture

import (
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// EncodedSource is a Camera whose frames arrive encoded (JPEG, PNG, ...).
// ReadEncoded hands the bytes over undecoded so decoding failures can be told
// apart from capture failures.
type EncodedSource interface {
	Camera
	ReadEncoded() ([]byte, error)
}

// Read takes one frame from src. Encoded sources return data and a nil Mat;
// all others return a Mat the caller must close.
func Read(src Camera) (*gocv.Mat, []byte, error) {
	if enc, ok := src.(EncodedSource); ok {
		data, err := enc.ReadEncoded()
		return nil, data, err
	}
	frame, err := src.ReadFrame()
	return frame, nil, err
}

// snapshotSource re-reads an image file that another program keeps
// overwriting, such as a still-capture tool writing the latest webcam shot.
type snapshotSource struct {
	path    string
	mu      sync.Mutex
	running bool
}

// NewSnapshotSource creates a source that reads the image at path on every
// frame request.
func NewSnapshotSource(path string) EncodedSource {
	return &snapshotSource{path: path}
}

func (s *snapshotSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("open snapshot %s: %w", s.path, err)
	}
	s.running = true
	return nil
}

func (s *snapshotSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// ReadEncoded returns the current file content.
func (s *snapshotSource) ReadEncoded() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, ErrCameraNotOpen
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w: %w", s.path, ErrReadFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", s.path, ErrEmptyFrame)
	}
	return data, nil
}

// ReadFrame reads and decodes the current file content.
func (s *snapshotSource) ReadFrame() (*gocv.Mat, error) {
	data, err := s.ReadEncoded()
	if err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.path, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("snapshot %s: %w", s.path, ErrEmptyFrame)
	}
	return &mat, nil
}

func (s *snapshotSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *snapshotSource) Describe() string {
	return "snapshot:" + s.path
}
