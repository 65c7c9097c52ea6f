// Package pose defines body keypoints and the boundary to pretrained
// pose-estimation models.
package pose

// Part is a body-part label in PoseNet order.
type Part string

// Body parts, in the order the model emits them.
const (
	Nose          Part = "nose"
	LeftEye       Part = "leftEye"
	RightEye      Part = "rightEye"
	LeftEar       Part = "leftEar"
	RightEar      Part = "rightEar"
	LeftShoulder  Part = "leftShoulder"
	RightShoulder Part = "rightShoulder"
	LeftElbow     Part = "leftElbow"
	RightElbow    Part = "rightElbow"
	LeftWrist     Part = "leftWrist"
	RightWrist    Part = "rightWrist"
	LeftHip       Part = "leftHip"
	RightHip      Part = "rightHip"
	LeftKnee      Part = "leftKnee"
	RightKnee     Part = "rightKnee"
	LeftAnkle     Part = "leftAnkle"
	RightAnkle    Part = "rightAnkle"
)

// Parts lists every label; the index is the model channel.
var Parts = [...]Part{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow,
	LeftWrist, RightWrist, LeftHip, RightHip,
	LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

// NumParts is the number of keypoints per pose.
const NumParts = len(Parts)

// Valid reports whether p is one of the known labels.
func (p Part) Valid() bool {
	for _, known := range Parts {
		if p == known {
			return true
		}
	}
	return false
}

// Point is a 2D position in buffer pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoint is one detected body part.
type Keypoint struct {
	Part     Part    `json:"part"`
	Position Point   `json:"position"`
	Score    float64 `json:"score"` // confidence in [0,1]
}

// Pose is the set of keypoints from one inference call.
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// NewPose wraps keypoints; the pose score is their mean score.
func NewPose(keypoints []Keypoint) Pose {
	p := Pose{Keypoints: keypoints}
	if len(keypoints) == 0 {
		return p
	}

	var sum float64
	for _, kp := range keypoints {
		sum += kp.Score
	}
	p.Score = sum / float64(len(keypoints))
	return p
}

// Find returns the keypoint labelled part.
func (p Pose) Find(part Part) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Part == part {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// sanitize drops unknown labels and repeated labels (first one wins) and
// clamps scores into [0,1].
func sanitize(keypoints []Keypoint) []Keypoint {
	seen := make(map[Part]bool, len(keypoints))
	out := make([]Keypoint, 0, len(keypoints))

	for _, kp := range keypoints {
		if !kp.Part.Valid() || seen[kp.Part] {
			continue
		}
		seen[kp.Part] = true

		switch {
		case kp.Score < 0:
			kp.Score = 0
		case kp.Score > 1:
			kp.Score = 1
		}
		out = append(out, kp)
	}

	return out
}
