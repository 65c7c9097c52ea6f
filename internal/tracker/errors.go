package tracker

import (
	"errors"
	"fmt"

	"github.com/ayusman/handtrack/internal/hand"
	"github.com/ayusman/handtrack/internal/imaging"
)

// Kind classifies tracker failures.
type Kind int

const (
	// InitializationError means the source or model could not be set up.
	// It is the only kind that stops the loop.
	InitializationError Kind = iota + 1
	// CaptureError means no frame could be read this cycle.
	CaptureError
	// DecodeError means the frame could not be decoded.
	DecodeError
	// DimensionError means the frame had a zero width or height.
	DimensionError
	// InferenceError means the pose model call failed.
	InferenceError
	// NoHandDetected means the pose had no wrist keypoint. It is a normal
	// outcome, reported as "no hand".
	NoHandDetected
)

var kindNames = map[Kind]string{
	InitializationError: "initialization",
	CaptureError:        "capture",
	DecodeError:         "decode",
	DimensionError:      "dimension",
	InferenceError:      "inference",
	NoHandDetected:      "no_hand",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a tracker failure tied to the stage and cycle it happened in.
type Error struct {
	Kind  Kind
	Stage State
	Cycle uint64
	Err   error
}

func (e *Error) Error() string {
	if e.Cycle == 0 {
		return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("cycle %d: %s error in %s: %v", e.Cycle, e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a tracker error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a tracker error of kind k.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// normalizeError maps normalizer failures onto their kinds.
func normalizeError(cycle uint64, err error) *Error {
	kind := DimensionError
	if errors.Is(err, imaging.ErrDecode) {
		kind = DecodeError
	}
	return &Error{Kind: kind, Stage: StateNormalizing, Cycle: cycle, Err: err}
}

func selectError(cycle uint64, err error) *Error {
	kind := InferenceError
	if errors.Is(err, hand.ErrNoHandDetected) {
		kind = NoHandDetected
	}
	return &Error{Kind: kind, Stage: StateSelecting, Cycle: cycle, Err: err}
}
