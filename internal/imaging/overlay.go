package imaging

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	markerColor = color.RGBA{0, 255, 0, 0}
	textColor   = color.RGBA{255, 255, 255, 0}
)

// Marker is a point to highlight on a preview image.
type Marker struct {
	X, Y  float64
	Label string
}

// EncodePreview draws the markers on a copy of the buffer and returns it
// JPEG encoded. The buffer itself is left untouched.
func EncodePreview(buf *Buffer, markers ...Marker) ([]byte, error) {
	if buf == nil || buf.Mat.Empty() {
		return nil, fmt.Errorf("%w: empty buffer", ErrDimension)
	}

	preview := buf.Mat.Clone()
	defer preview.Close()

	for _, m := range markers {
		pt := image.Pt(int(m.X), int(m.Y))
		gocv.Circle(&preview, pt, 12, markerColor, 3)
		if m.Label != "" {
			gocv.PutText(&preview, m.Label, image.Pt(pt.X+16, pt.Y), gocv.FontHersheySimplex, 0.8, textColor, 2)
		}
	}

	encoded, err := gocv.IMEncode(".jpg", preview)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer encoded.Close()

	// GetBytes aliases native memory; copy before Close.
	out := make([]byte, encoded.Len())
	copy(out, encoded.GetBytes())
	return out, nil
}
