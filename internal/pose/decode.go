package pose

import (
	"fmt"
	"math"
)

// ValidResolution returns the model input side for a buffer of the given
// size: size*scale rounded down so that (side-1) is a multiple of stride,
// plus one. It never returns less than stride+1.
func ValidResolution(size int, scale float64, stride int) int {
	even := int(float64(size)*scale) - 1
	res := even - even%stride + 1
	if res < stride+1 {
		return stride + 1
	}
	return res
}

// OutputSize returns the heatmap side for a model input side.
func OutputSize(resolution, stride int) int {
	return (resolution-1)/stride + 1
}

func sigmoid(v float32) float64 {
	return 1 / (1 + math.Exp(-float64(v)))
}

// decodeSinglePose turns PoseNet heatmaps and offsets into keypoints in model
// input coordinates. Both tensors are channel-major (NCHW with N=1): heatmaps
// have NumParts channels; offsets have 2*NumParts channels, y offsets first.
// Each part takes the heatmap cell with the highest activation; ties keep the
// first cell in row-major order.
func decodeSinglePose(heatmaps, offsets []float32, h, w, stride int) ([]Keypoint, error) {
	cells := h * w
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: heatmap size %dx%d", ErrInference, w, h)
	}
	if len(heatmaps) < NumParts*cells {
		return nil, fmt.Errorf("%w: heatmaps have %d values, want %d", ErrInference, len(heatmaps), NumParts*cells)
	}
	if len(offsets) < 2*NumParts*cells {
		return nil, fmt.Errorf("%w: offsets have %d values, want %d", ErrInference, len(offsets), 2*NumParts*cells)
	}

	keypoints := make([]Keypoint, NumParts)
	for k, part := range Parts {
		channel := heatmaps[k*cells : (k+1)*cells]

		best := 0
		for i := 1; i < cells; i++ {
			if channel[i] > channel[best] {
				best = i
			}
		}

		y, x := best/w, best%w
		offY := offsets[k*cells+best]
		offX := offsets[(k+NumParts)*cells+best]

		keypoints[k] = Keypoint{
			Part: part,
			Position: Point{
				X: float64(x*stride) + float64(offX),
				Y: float64(y*stride) + float64(offY),
			},
			Score: sigmoid(channel[best]),
		}
	}

	return keypoints, nil
}
