// Package imaging turns captured frames into the square, top-anchored
// buffers fed to the pose model.
package imaging

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var (
	// ErrDecode is returned when input bytes cannot be parsed as an image.
	ErrDecode = errors.New("image could not be decoded")

	// ErrDimension is returned when the source width or height is zero.
	ErrDimension = errors.New("image has a zero dimension")
)

// Buffer is a square pixel buffer of side Size holding a source image of
// SourceWidth x SourceHeight at its top-left corner. Pixels outside the
// source region are zero (black) in every channel.
type Buffer struct {
	Mat          gocv.Mat
	Size         int
	SourceWidth  int
	SourceHeight int
}

// Close releases the underlying Mat.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	return b.Mat.Close()
}

// Padded reports whether fill pixels were added.
func (b *Buffer) Padded() bool {
	return b.SourceWidth != b.Size || b.SourceHeight != b.Size
}

// Decode parses encoded image bytes (JPEG, PNG, ...) and normalizes the result.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecode)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("%w: %d bytes produced no pixels", ErrDecode, len(data))
	}

	return Normalize(mat)
}

// Normalize copies src onto the top-left corner of a black square canvas
// whose side is the longer of the two source dimensions. The source is not
// centered: fill goes to the right and/or bottom. A square source comes back
// unchanged. src is not modified and remains owned by the caller.
func Normalize(src gocv.Mat) (*Buffer, error) {
	w, h := src.Cols(), src.Rows()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimension, w, h)
	}

	size := max(w, h)

	if w == h {
		return &Buffer{
			Mat:          src.Clone(),
			Size:         size,
			SourceWidth:  w,
			SourceHeight: h,
		}, nil
	}

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, src.Type())

	roi := canvas.Region(image.Rect(0, 0, w, h))
	src.CopyTo(&roi)
	roi.Close()

	return &Buffer{
		Mat:          canvas,
		Size:         size,
		SourceWidth:  w,
		SourceHeight: h,
	}, nil
}
