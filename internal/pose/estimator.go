package pose

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrModelLoad is returned when a model cannot be loaded.
	ErrModelLoad = errors.New("pose model failed to load")

	// ErrInference is returned when a model call fails.
	ErrInference = errors.New("pose inference failed")

	// ErrUnsupportedMultiplier is returned for multipliers with no model variant.
	ErrUnsupportedMultiplier = errors.New("unsupported model multiplier")
)

// Estimator defines the interface for pose-estimation implementations.
type Estimator interface {
	// Estimate runs the model over a square buffer and returns one keypoint
	// per recognized body part, positions in buffer coordinates.
	Estimate(ctx context.Context, buf *gocv.Mat, opts Options) ([]Keypoint, error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Options are the per-call inference parameters.
type Options struct {
	// ScaleFactor shrinks the input before inference (0.2-1.0).
	ScaleFactor float64 `json:"scaleFactor"`

	// FlipHorizontal mirrors the input, e.g. for front-facing webcams.
	FlipHorizontal bool `json:"flipHorizontal"`

	// OutputStride is the model output stride: 8, 16 or 32.
	OutputStride int `json:"outputStride"`
}

// DefaultOptions returns the reference inference parameters.
func DefaultOptions() Options {
	return Options{
		ScaleFactor:    0.6,
		FlipHorizontal: false,
		OutputStride:   16,
	}
}

// Validate checks the options against what the models accept.
func (o Options) Validate() error {
	if o.ScaleFactor <= 0.2 || o.ScaleFactor > 1 {
		return fmt.Errorf("scale factor %.2f outside (0.2, 1.0]", o.ScaleFactor)
	}
	switch o.OutputStride {
	case 8, 16, 32:
	default:
		return fmt.Errorf("output stride %d not one of 8, 16, 32", o.OutputStride)
	}
	return nil
}

// Backend names accepted by Load.
const (
	BackendDNN     = "dnn"
	BackendProcess = "process"
	BackendMock    = "mock"
)

// Config selects and parameterizes an estimator.
type Config struct {
	// Backend is one of BackendDNN, BackendProcess or BackendMock.
	Backend string

	// ModelDir holds posenet_mobilenet_<multiplier>.onnx files (dnn backend).
	ModelDir string

	// Multiplier is the MobileNet depth multiplier: 0.50, 0.75, 1.00 or 1.01.
	Multiplier float64

	// Command is the external estimator command line (process backend).
	Command []string
}

// DefaultConfig returns the reference model configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendDNN,
		ModelDir:   "models",
		Multiplier: 0.75,
	}
}

// Load creates the estimator described by cfg. Failures wrap ErrModelLoad.
func Load(cfg Config) (Estimator, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		e, err := NewNetEstimator(cfg.ModelDir, cfg.Multiplier)
		if err != nil {
			return nil, err
		}
		return e, nil
	case BackendProcess:
		e, err := NewProcessEstimator(cfg.Command)
		if err != nil {
			return nil, err
		}
		return e, nil
	case BackendMock:
		return NewMockEstimator(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelLoad, cfg.Backend)
	}
}
