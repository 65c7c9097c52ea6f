package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
)

// MotionGate decides whether a frame differs enough from the previous one to
// be worth running pose estimation on. It uses frame differencing over
// blurred grayscale images.
type MotionGate struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	closed      bool
	mu          sync.Mutex
}

// NewMotionGate creates a MotionGate. threshold is the percentage of pixels
// that must change, e.g. 1.0 means 1% of pixels.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Changed reports whether frame moved relative to the previous frame passed
// in, along with the changed pixel percentage. The first frame after
// creation or Reset always counts as changed so it gets processed.
func (g *MotionGate) Changed(frame *gocv.Mat) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || frame == nil || frame.Empty() {
		return false, 0
	}

	blurred := blurredGray(frame)
	defer blurred.Close()

	if !g.initialized || blurred.Rows() != g.prevGray.Rows() || blurred.Cols() != g.prevGray.Cols() {
		blurred.CopyTo(&g.prevGray)
		g.initialized = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&g.prevGray)

	return changed > g.threshold, changed
}

func blurredGray(frame *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)
	return blurred
}

// Reset drops the baseline frame. The baseline Mat is reused by the next
// Changed call.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = false
}

// Close releases the baseline Mat. It is safe to call more than once; a
// closed gate reports every frame as unchanged.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.prevGray.Close()
	g.closed = true
	g.initialized = false
}

// Threshold returns the configured change percentage.
func (g *MotionGate) Threshold() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}
