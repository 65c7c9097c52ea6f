// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Reference capture size.
const (
	Width  = 1280
	Height = 720
)

// Frame returns a w x h BGR frame filled with a mid-gray background and a
// white "person" block in the middle.
func Frame(w, h int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), h, w, gocv.MatTypeCV8UC3)
	body := image.Rect(w*2/5, h/5, w*3/5, h)
	gocv.Rectangle(&mat, body, color.RGBA{255, 255, 255, 0}, -1)
	return &mat
}

// Sequence returns n frames in which a bright square sweeps from left to
// right, so consecutive frames always differ.
func Sequence(n, w, h int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	side := h / 4
	step := 0
	if n > 1 {
		step = (w - side) / (n - 1)
	}

	for i := 0; i < n; i++ {
		frame := Frame(w, h)
		x := i * step
		gocv.Rectangle(frame, image.Rect(x, 0, x+side, side), color.RGBA{0, 0, 255, 0}, -1)
		frames = append(frames, frame)
	}
	return frames
}

// Static returns n identical frames.
func Static(n, w, h int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, Frame(w, h))
	}
	return frames
}

// JPEG returns a w x h frame encoded as JPEG.
func JPEG(w, h int) ([]byte, error) {
	frame := Frame(w, h)
	defer frame.Close()

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
