package pose

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

var modelVariants = map[float64]string{
	0.50: "050",
	0.75: "075",
	1.00: "100",
	1.01: "101",
}

// ModelPath returns the model file for a MobileNet multiplier inside dir.
func ModelPath(dir string, multiplier float64) (string, error) {
	variant, ok := modelVariants[multiplier]
	if !ok {
		return "", fmt.Errorf("%w: %.2f", ErrUnsupportedMultiplier, multiplier)
	}
	return filepath.Join(dir, "posenet_mobilenet_"+variant+".onnx"), nil
}

// NetEstimator runs a PoseNet MobileNet model with the OpenCV DNN module.
// gocv.Net is not safe for concurrent use, so calls are serialized.
type NetEstimator struct {
	net     gocv.Net
	path    string
	outputs []string
	mu      sync.Mutex
}

// NewNetEstimator loads the model variant for multiplier from dir.
func NewNetEstimator(dir string, multiplier float64) (*NetEstimator, error) {
	path, err := ModelPath(dir, multiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: could not read %s", ErrModelLoad, path)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set backend: %w", ErrModelLoad, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set target: %w", ErrModelLoad, err)
	}

	var outputs []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		outputs = append(outputs, layer.GetName())
		layer.Close()
	}
	if len(outputs) < 2 {
		net.Close()
		return nil, fmt.Errorf("%w: %s has %d outputs, want heatmaps and offsets", ErrModelLoad, path, len(outputs))
	}

	return &NetEstimator{
		net:     net,
		path:    path,
		outputs: outputs,
	}, nil
}

// Estimate runs single-pose inference over a square buffer.
func (e *NetEstimator) Estimate(ctx context.Context, buf *gocv.Mat, opts Options) ([]Keypoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Empty() {
		return nil, fmt.Errorf("%w: empty input", ErrInference)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	size := buf.Cols()
	res := ValidResolution(size, opts.ScaleFactor, opts.OutputStride)

	input := *buf
	if opts.FlipHorizontal {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(*buf, &flipped, 1)
		input = flipped
	}

	// (pixel - 127.5) * 2/255 maps 8-bit BGR into [-1, 1] RGB
	blob := gocv.BlobFromImage(input, 2.0/255.0, image.Pt(res, res), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	outs := e.net.ForwardLayers(e.outputs)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	heatmaps, offsets, h, w, err := splitOutputs(outs)
	if err != nil {
		return nil, err
	}

	keypoints, err := decodeSinglePose(heatmaps, offsets, h, w, opts.OutputStride)
	if err != nil {
		return nil, err
	}

	scale := float64(size) / float64(res)
	for i := range keypoints {
		p := &keypoints[i].Position
		p.X *= scale
		p.Y *= scale
		if opts.FlipHorizontal {
			p.X = float64(size-1) - p.X
		}
	}

	return sanitize(keypoints), nil
}

// splitOutputs identifies the heatmap and offset tensors by channel count.
func splitOutputs(outs []gocv.Mat) (heatmaps, offsets []float32, h, w int, err error) {
	for _, out := range outs {
		dims := out.Size()
		if len(dims) != 4 {
			continue
		}

		data, derr := out.DataPtrFloat32()
		if derr != nil {
			return nil, nil, 0, 0, fmt.Errorf("%w: read output: %w", ErrInference, derr)
		}

		switch dims[1] {
		case NumParts:
			heatmaps, h, w = data, dims[2], dims[3]
		case 2 * NumParts:
			offsets = data
		}
	}

	if heatmaps == nil || offsets == nil {
		return nil, nil, 0, 0, fmt.Errorf("%w: model outputs missing heatmaps or offsets", ErrInference)
	}
	return heatmaps, offsets, h, w, nil
}

// Path returns the loaded model file.
func (e *NetEstimator) Path() string {
	return e.path
}

// Close releases the network.
func (e *NetEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}
