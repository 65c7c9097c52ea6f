// Package hand picks the tracked hand out of a set of body keypoints.
package hand

import (
	"errors"
	"sort"

	"github.com/ayusman/handtrack/internal/pose"
)

// ErrNoHandDetected is returned when no wrist keypoint is present.
var ErrNoHandDetected = errors.New("no hand detected")

// Position is the selected wrist, in normalized buffer coordinates.
type Position struct {
	Part  pose.Part `json:"part"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Score float64   `json:"score"`
}

// IsWrist reports whether part is one of the two wrist labels.
func IsWrist(part pose.Part) bool {
	return part == pose.LeftWrist || part == pose.RightWrist
}

// Select returns the wrist keypoint with the highest score.
//
// Candidates are ordered by a stable ascending sort on score and the last one
// wins, so on equal scores the wrist enumerated later in keypoints is chosen.
// A score of zero is still selectable.
func Select(keypoints []pose.Keypoint) (Position, error) {
	var wrists []pose.Keypoint
	for _, kp := range keypoints {
		if IsWrist(kp.Part) {
			wrists = append(wrists, kp)
		}
	}

	if len(wrists) == 0 {
		return Position{}, ErrNoHandDetected
	}

	sort.SliceStable(wrists, func(i, j int) bool {
		return wrists[i].Score < wrists[j].Score
	})

	best := wrists[len(wrists)-1]
	return Position{
		Part:  best.Part,
		X:     best.Position.X,
		Y:     best.Position.Y,
		Score: best.Score,
	}, nil
}
