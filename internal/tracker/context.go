package tracker

import (
	"errors"
	"fmt"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/pose"
)

// Setup describes what Initialize needs to build a tracking context.
type Setup struct {
	// Source delivers frames; Initialize opens it.
	Source capture.Camera

	// LoadEstimator creates the pose estimator. It runs after the source
	// opened successfully.
	LoadEstimator func() (pose.Estimator, error)

	// Options are passed to every Estimate call.
	Options pose.Options
}

// Context holds the resources shared by every cycle of one tracking run.
// It is created by Initialize and released by Teardown.
type Context struct {
	Source    capture.Camera
	Estimator pose.Estimator
	Options   pose.Options
}

// Initialize opens the frame source and loads the estimator. Any failure is
// returned as an InitializationError and leaves nothing open.
func Initialize(s Setup) (*Context, error) {
	fail := func(err error) (*Context, error) {
		return nil, &Error{Kind: InitializationError, Stage: StateIdle, Err: err}
	}

	if s.Source == nil {
		return fail(errors.New("no frame source"))
	}
	if s.LoadEstimator == nil {
		return fail(errors.New("no estimator loader"))
	}
	if err := s.Options.Validate(); err != nil {
		return fail(fmt.Errorf("invalid estimator options: %w", err))
	}

	if err := s.Source.Open(); err != nil {
		return fail(fmt.Errorf("open %s: %w", s.Source.Describe(), err))
	}

	estimator, err := s.LoadEstimator()
	if err != nil {
		s.Source.Close()
		return fail(err)
	}
	if estimator == nil {
		s.Source.Close()
		return fail(fmt.Errorf("%w: loader returned no estimator", pose.ErrModelLoad))
	}

	return &Context{
		Source:    s.Source,
		Estimator: estimator,
		Options:   s.Options,
	}, nil
}

// Teardown closes the estimator and the source.
func Teardown(c *Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.Estimator != nil {
		if err := c.Estimator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close estimator: %w", err))
		}
	}
	if c.Source != nil {
		if err := c.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	return errors.Join(errs...)
}
