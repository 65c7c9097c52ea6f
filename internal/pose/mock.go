package pose

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockEstimator is a test implementation of the Estimator interface.
// It allows tests to control the estimation results.
type MockEstimator struct {
	mu        sync.Mutex
	keypoints []Keypoint
	err       error
	calls     int
	lastOpts  Options
	closed    bool
}

// NewMockEstimator creates a new MockEstimator instance.
func NewMockEstimator() *MockEstimator {
	return &MockEstimator{}
}

// SetKeypoints sets the keypoints returned by Estimate.
func (m *MockEstimator) SetKeypoints(keypoints []Keypoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keypoints = keypoints
}

// SetError sets the error returned by Estimate.
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Estimate returns the pre-configured keypoints or error.
func (m *MockEstimator) Estimate(ctx context.Context, buf *gocv.Mat, opts Options) ([]Keypoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastOpts = opts

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Keypoint, len(m.keypoints))
	copy(out, m.keypoints)
	return out, nil
}

// Calls returns how many times Estimate was invoked.
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastOptions returns the options of the most recent Estimate call.
func (m *MockEstimator) LastOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// Close marks the mock closed.
func (m *MockEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockEstimator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// StandingPose returns a full 17-keypoint pose of a person standing with
// both arms down; the wrist scores are the given values.
func StandingPose(leftWristScore, rightWristScore float64) []Keypoint {
	positions := map[Part]Point{
		Nose:          {X: 320, Y: 120},
		LeftEye:       {X: 335, Y: 105},
		RightEye:      {X: 305, Y: 105},
		LeftEar:       {X: 350, Y: 115},
		RightEar:      {X: 290, Y: 115},
		LeftShoulder:  {X: 380, Y: 200},
		RightShoulder: {X: 260, Y: 200},
		LeftElbow:     {X: 400, Y: 290},
		RightElbow:    {X: 240, Y: 290},
		LeftWrist:     {X: 410, Y: 370},
		RightWrist:    {X: 230, Y: 370},
		LeftHip:       {X: 360, Y: 390},
		RightHip:      {X: 280, Y: 390},
		LeftKnee:      {X: 365, Y: 500},
		RightKnee:     {X: 275, Y: 500},
		LeftAnkle:     {X: 370, Y: 600},
		RightAnkle:    {X: 270, Y: 600},
	}

	keypoints := make([]Keypoint, 0, NumParts)
	for _, part := range Parts {
		score := 0.9
		switch part {
		case LeftWrist:
			score = leftWristScore
		case RightWrist:
			score = rightWristScore
		}
		keypoints = append(keypoints, Keypoint{Part: part, Position: positions[part], Score: score})
	}
	return keypoints
}

// RightHandRaisedPose returns a pose whose right wrist is raised above the
// head and clearly more confident than the left one.
func RightHandRaisedPose() []Keypoint {
	keypoints := StandingPose(0.2, 0.95)
	for i := range keypoints {
		if keypoints[i].Part == RightWrist {
			keypoints[i].Position = Point{X: 230, Y: 60}
		}
	}
	return keypoints
}

// LeftHandRaisedPose mirrors RightHandRaisedPose.
func LeftHandRaisedPose() []Keypoint {
	keypoints := StandingPose(0.95, 0.2)
	for i := range keypoints {
		if keypoints[i].Part == LeftWrist {
			keypoints[i].Position = Point{X: 410, Y: 60}
		}
	}
	return keypoints
}

// NoWristsPose returns a pose with both wrist keypoints missing, as from a
// head-and-shoulders crop.
func NoWristsPose() []Keypoint {
	var keypoints []Keypoint
	for _, kp := range StandingPose(0, 0) {
		if kp.Part == LeftWrist || kp.Part == RightWrist {
			continue
		}
		keypoints = append(keypoints, kp)
	}
	return keypoints
}
