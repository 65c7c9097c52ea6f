package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"gocv.io/x/gocv"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/hand"
	"github.com/ayusman/handtrack/internal/imaging"
	"github.com/ayusman/handtrack/internal/pose"
	"github.com/ayusman/handtrack/testdata"
)

// collector records results and cancels the run after limit of them.
type collector struct {
	mu      sync.Mutex
	results []Result
	limit   int
	cancel  context.CancelFunc
}

func (c *collector) Report(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	if c.limit > 0 && len(c.results) >= c.limit && c.cancel != nil {
		c.cancel()
	}
}

func (c *collector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

type fixture struct {
	camera    *capture.MockCamera
	estimator *pose.MockEstimator
	collector *collector
	tracker   *Tracker
	ctx       context.Context
}

func newFixture(t *testing.T, limit int, frames []*gocv.Mat, cfg Config) *fixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	col := &collector{limit: limit, cancel: cancel}

	if cfg.Scheduler == nil {
		cfg.Scheduler = ImmediateScheduler{}
	}
	cfg.Reporter = col
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Tracer = noop.NewTracerProvider().Tracer("test")

	return &fixture{
		camera:    capture.NewMockCamera(frames, true),
		estimator: pose.NewMockEstimator(),
		collector: col,
		tracker:   New(cfg),
		ctx:       ctx,
	}
}

func (f *fixture) setup() Setup {
	return Setup{
		Source:        f.camera,
		LoadEstimator: func() (pose.Estimator, error) { return f.estimator, nil },
		Options:       pose.DefaultOptions(),
	}
}

func (f *fixture) run(t *testing.T) []Result {
	t.Helper()
	if err := f.tracker.Run(f.ctx, f.setup()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if errors.Is(f.ctx.Err(), context.DeadlineExceeded) {
		t.Fatal("Run() did not finish before the test deadline")
	}
	return f.collector.Results()
}

func referenceFrames(t *testing.T, n int) []*gocv.Mat {
	t.Helper()
	frames := testdata.Sequence(n, testdata.Width, testdata.Height)
	t.Cleanup(func() { testdata.CloseAll(frames) })
	return frames
}

func TestRun_ReportsHigherScoringWrist(t *testing.T) {
	f := newFixture(t, 3, referenceFrames(t, 2), Config{})
	f.estimator.SetKeypoints(pose.StandingPose(0.3, 0.8))

	results := f.run(t)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Cycle != uint64(i+1) {
			t.Errorf("results[%d].Cycle = %d, want %d", i, r.Cycle, i+1)
		}
		if r.Err != nil {
			t.Errorf("results[%d].Err = %v", i, r.Err)
			continue
		}
		if r.Hand == nil || r.Hand.Part != pose.RightWrist || r.Hand.Score != 0.8 {
			t.Errorf("results[%d].Hand = %+v, want rightWrist at 0.8", i, r.Hand)
		}
	}

	if got := f.estimator.LastOptions(); got != pose.DefaultOptions() {
		t.Errorf("estimator options = %+v, want defaults", got)
	}
	if !f.estimator.Closed() {
		t.Error("estimator should be closed on teardown")
	}
	if f.camera.IsOpen() {
		t.Error("camera should be closed on teardown")
	}

	status := f.tracker.Status()
	if status.State != StateStopped {
		t.Errorf("State = %s, want %s", status.State, StateStopped)
	}
	if status.Cycles != 3 || status.Detections != 3 {
		t.Errorf("Cycles, Detections = %d, %d, want 3, 3", status.Cycles, status.Detections)
	}
	if status.LastHand == nil || status.LastHand.Part != pose.RightWrist {
		t.Errorf("LastHand = %+v", status.LastHand)
	}
	if len(status.Trail) != 3 {
		t.Errorf("Trail has %d points, want 3", len(status.Trail))
	}
}

func TestRun_CaptureErrorDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, 3, referenceFrames(t, 2), Config{})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())
	f.camera.FailRead(0, errors.New("device busy"))

	results := f.run(t)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !IsKind(results[0].Err, CaptureError) {
		t.Errorf("results[0].Err = %v, want CaptureError", results[0].Err)
	}
	var te *Error
	if !errors.As(results[0].Err, &te) || te.Stage != StateCapturingFrame || te.Cycle != 1 {
		t.Errorf("results[0].Err = %#v", results[0].Err)
	}
	if results[1].Hand == nil || results[1].Hand.Part != pose.RightWrist {
		t.Errorf("second cycle should track the hand, got %+v (err %v)", results[1].Hand, results[1].Err)
	}
	if f.estimator.Calls() != 2 {
		t.Errorf("estimator called %d times, want 2", f.estimator.Calls())
	}
	if got := f.tracker.Status().Errors["capture"]; got != 1 {
		t.Errorf("capture error count = %d, want 1", got)
	}
}

func TestRun_InferenceErrorDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, 2, referenceFrames(t, 1), Config{})
	f.estimator.SetError(errors.New("model crashed"))

	results := f.run(t)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if !IsKind(r.Err, InferenceError) {
			t.Errorf("results[%d].Err = %v, want InferenceError", i, r.Err)
		}
		if r.Hand != nil {
			t.Errorf("results[%d].Hand = %+v, want nil", i, r.Hand)
		}
	}
}

func TestRun_DimensionErrorDoesNotStopLoop(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	frames := []*gocv.Mat{&empty}

	f := newFixture(t, 2, frames, Config{})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())

	results := f.run(t)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !IsKind(results[0].Err, DimensionError) {
		t.Errorf("results[0].Err = %v, want DimensionError", results[0].Err)
	}
	if f.estimator.Calls() != 0 {
		t.Errorf("estimator should not run on abandoned cycles, got %d calls", f.estimator.Calls())
	}
}

func TestRun_NoHandIsANormalOutcome(t *testing.T) {
	f := newFixture(t, 2, referenceFrames(t, 1), Config{})
	f.estimator.SetKeypoints(pose.NoWristsPose())

	results := f.run(t)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !IsKind(results[0].Err, NoHandDetected) {
		t.Errorf("results[0].Err = %v, want NoHandDetected", results[0].Err)
	}
	if !errors.Is(results[0].Err, hand.ErrNoHandDetected) {
		t.Error("NoHandDetected should wrap hand.ErrNoHandDetected")
	}
	if results[0].Detected() {
		t.Error("Detected() should be false")
	}
}

func TestRun_InitializationErrorStopsBeforeAnyCycle(t *testing.T) {
	t.Run("source fails to open", func(t *testing.T) {
		f := newFixture(t, 0, referenceFrames(t, 1), Config{})
		f.camera.FailOpen(errors.New("no camera permission"))

		loaded := false
		setup := f.setup()
		setup.LoadEstimator = func() (pose.Estimator, error) {
			loaded = true
			return f.estimator, nil
		}

		err := f.tracker.Run(f.ctx, setup)

		if !IsKind(err, InitializationError) {
			t.Fatalf("Run() error = %v, want InitializationError", err)
		}
		if loaded {
			t.Error("estimator should not load when the source fails")
		}
		if f.camera.Reads() != 0 || len(f.collector.Results()) != 0 {
			t.Error("no cycle should run after an initialization failure")
		}
		if got := f.tracker.Status().State; got != StateStopped {
			t.Errorf("State = %s, want %s", got, StateStopped)
		}
	})

	t.Run("model fails to load", func(t *testing.T) {
		f := newFixture(t, 0, referenceFrames(t, 1), Config{})

		setup := f.setup()
		setup.LoadEstimator = func() (pose.Estimator, error) {
			return nil, pose.ErrModelLoad
		}

		err := f.tracker.Run(f.ctx, setup)

		if !IsKind(err, InitializationError) || !errors.Is(err, pose.ErrModelLoad) {
			t.Fatalf("Run() error = %v, want InitializationError wrapping ErrModelLoad", err)
		}
		if f.camera.IsOpen() {
			t.Error("source should be closed after a model load failure")
		}
		if len(f.collector.Results()) != 0 {
			t.Error("no cycle should run")
		}
	})

	t.Run("invalid options", func(t *testing.T) {
		f := newFixture(t, 0, referenceFrames(t, 1), Config{})

		setup := f.setup()
		setup.Options.OutputStride = 7

		if err := f.tracker.Run(f.ctx, setup); !IsKind(err, InitializationError) {
			t.Fatalf("Run() error = %v, want InitializationError", err)
		}
		if f.camera.IsOpen() {
			t.Error("source should not be opened with invalid options")
		}
	})
}

// cancellingEstimator cancels the run while inference is in progress.
type cancellingEstimator struct {
	cancel context.CancelFunc
	calls  int
}

func (e *cancellingEstimator) Estimate(ctx context.Context, buf *gocv.Mat, opts pose.Options) ([]pose.Keypoint, error) {
	e.calls++
	e.cancel()
	return pose.RightHandRaisedPose(), nil
}

func (e *cancellingEstimator) Close() error { return nil }

func TestRun_StopBetweenStagesSkipsReporting(t *testing.T) {
	f := newFixture(t, 0, referenceFrames(t, 1), Config{})

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	est := &cancellingEstimator{cancel: cancel}

	setup := f.setup()
	setup.LoadEstimator = func() (pose.Estimator, error) { return est, nil }

	if err := f.tracker.Run(ctx, setup); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if est.calls != 1 {
		t.Errorf("estimator called %d times, want 1", est.calls)
	}
	if got := len(f.collector.Results()); got != 0 {
		t.Errorf("cancelled cycle should not be reported, got %d results", got)
	}
}

// blockingEstimator holds every call until its context ends.
type blockingEstimator struct {
	started chan struct{}
}

func (e *blockingEstimator) Estimate(ctx context.Context, buf *gocv.Mat, opts pose.Options) ([]pose.Keypoint, error) {
	close(e.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (e *blockingEstimator) Close() error { return nil }

func TestRun_StopDuringInference(t *testing.T) {
	f := newFixture(t, 0, referenceFrames(t, 1), Config{})
	est := &blockingEstimator{started: make(chan struct{})}

	setup := f.setup()
	setup.LoadEstimator = func() (pose.Estimator, error) { return est, nil }

	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(f.ctx, setup) }()

	select {
	case <-est.started:
	case <-time.After(2 * time.Second):
		t.Fatal("inference never started")
	}
	f.tracker.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() waited for the in-flight inference")
	}
	if got := len(f.collector.Results()); got != 0 {
		t.Errorf("abandoned cycle should not be reported, got %d results", got)
	}
}

func TestRun_StopWhileWaitingForTick(t *testing.T) {
	sched := NewManualScheduler()
	defer sched.Close()

	f := newFixture(t, 0, referenceFrames(t, 1), Config{Scheduler: sched})

	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(f.ctx, f.setup()) }()

	if !sched.TickTimeout(time.Second) {
		t.Fatal("loop never asked for a tick")
	}
	// the second request for a tick means the first cycle is complete
	if !sched.TickTimeout(time.Second) {
		t.Fatal("loop never asked for a second tick")
	}

	f.tracker.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop")
	}
}

func TestRun_Pause(t *testing.T) {
	sched := NewManualScheduler()
	defer sched.Close()

	f := newFixture(t, 0, referenceFrames(t, 1), Config{Scheduler: sched})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())
	f.tracker.SetPaused(true)

	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(f.ctx, f.setup()) }()

	for i := 0; i < 3; i++ {
		if !sched.TickTimeout(time.Second) {
			t.Fatalf("tick %d not consumed", i)
		}
	}
	if f.camera.Reads() != 0 {
		t.Errorf("paused tracker read %d frames", f.camera.Reads())
	}

	f.tracker.SetPaused(false)
	sched.TickTimeout(time.Second)
	sched.TickTimeout(time.Second)

	f.tracker.Stop()
	<-done

	if f.camera.Reads() == 0 {
		t.Error("resumed tracker should read frames")
	}
	if got := len(f.collector.Results()); got < 1 {
		t.Errorf("got %d results after resume, want at least 1", got)
	}
}

func TestTracker_OnPauseChange(t *testing.T) {
	trk := New(Config{})

	var got []bool
	trk.OnPauseChange(func(paused bool) { got = append(got, paused) })

	trk.SetPaused(true)
	trk.SetPaused(true)
	trk.SetPaused(false)

	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("pause hooks saw %v, want [true false]", got)
	}
	if trk.Status().Paused {
		t.Error("Status().Paused should follow the last SetPaused")
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	sched := NewManualScheduler()
	defer sched.Close()

	f := newFixture(t, 0, referenceFrames(t, 1), Config{Scheduler: sched})

	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(f.ctx, f.setup()) }()
	sched.TickTimeout(time.Second)

	if err := f.tracker.Run(f.ctx, f.setup()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want %v", err, ErrAlreadyRunning)
	}

	f.tracker.Stop()
	<-done
}

func TestRun_MotionGateReusesStaticFrames(t *testing.T) {
	frames := testdata.Static(1, 640, 480)
	defer testdata.CloseAll(frames)

	f := newFixture(t, 3, frames, Config{MotionThreshold: 1})
	f.estimator.SetKeypoints(pose.LeftHandRaisedPose())

	results := f.run(t)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Static {
		t.Error("first frame should be estimated")
	}
	for i := 1; i < 3; i++ {
		if !results[i].Static {
			t.Errorf("results[%d] should be static", i)
		}
		if results[i].Cycle != uint64(i+1) {
			t.Errorf("results[%d].Cycle = %d", i, results[i].Cycle)
		}
		if results[i].Hand == nil || results[i].Hand.Part != pose.LeftWrist {
			t.Errorf("results[%d].Hand = %+v", i, results[i].Hand)
		}
	}
	if f.estimator.Calls() != 1 {
		t.Errorf("estimator called %d times, want 1", f.estimator.Calls())
	}
}

func TestRun_MotionGateRenumbersReusedError(t *testing.T) {
	frames := testdata.Static(1, 640, 480)
	defer testdata.CloseAll(frames)

	f := newFixture(t, 3, frames, Config{MotionThreshold: 1})
	f.estimator.SetKeypoints(pose.NoWristsPose())

	results := f.run(t)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		var e *Error
		if !errors.As(r.Err, &e) || e.Kind != NoHandDetected {
			t.Fatalf("results[%d].Err = %v, want no hand", i, r.Err)
		}
		if e.Cycle != r.Cycle {
			t.Errorf("results[%d] error names cycle %d, result is cycle %d", i, e.Cycle, r.Cycle)
		}
	}
	if results[0].Err == results[2].Err {
		t.Error("static result should not share the earlier cycle's error")
	}
}

func TestRun_UndecodableSnapshotIsDecodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	f := newFixture(t, 2, nil, Config{})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())

	setup := f.setup()
	setup.Source = capture.NewSnapshotSource(path)
	if err := f.tracker.Run(f.ctx, setup); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	results := f.collector.Results()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (loop continues after decode errors)", len(results))
	}
	for i, r := range results {
		if !IsKind(r.Err, DecodeError) {
			t.Errorf("results[%d].Err = %v, want decode error", i, r.Err)
		}
	}
	if f.estimator.Calls() != 0 {
		t.Errorf("estimator called %d times, want 0", f.estimator.Calls())
	}
}

func TestRun_SnapshotSourceIsDecodedAndEstimated(t *testing.T) {
	data, err := testdata.JPEG(320, 240)
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "latest.jpg")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	sink := &previewSink{}
	f := newFixture(t, 1, nil, Config{Preview: sink})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())

	setup := f.setup()
	setup.Source = capture.NewSnapshotSource(path)
	if err := f.tracker.Run(f.ctx, setup); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	results := f.collector.Results()
	if len(results) != 1 || results[0].Hand == nil {
		t.Fatalf("results = %+v, want one detected hand", results)
	}
	if len(sink.sizes) != 1 || sink.sizes[0] != 320 {
		t.Errorf("normalized sizes = %v, want [320]", sink.sizes)
	}
}

type previewSink struct {
	sizes []int
	hands []*hand.Position
}

func (p *previewSink) WriteFrame(buf *imaging.Buffer, pos *hand.Position) {
	p.sizes = append(p.sizes, buf.Size)
	p.hands = append(p.hands, pos)
}

func TestRun_PreviewReceivesNormalizedBuffer(t *testing.T) {
	sink := &previewSink{}
	f := newFixture(t, 1, referenceFrames(t, 1), Config{Preview: sink})
	f.estimator.SetKeypoints(pose.RightHandRaisedPose())

	f.run(t)

	if len(sink.sizes) != 1 || sink.sizes[0] != testdata.Width {
		t.Fatalf("preview sizes = %v, want [%d]", sink.sizes, testdata.Width)
	}
	if sink.hands[0] == nil || sink.hands[0].Part != pose.RightWrist {
		t.Errorf("preview hand = %+v", sink.hands[0])
	}
}
