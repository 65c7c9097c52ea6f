// Package tracker runs the capture, normalize, estimate, select and report
// cycle that turns camera frames into hand positions.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/hand"
	"github.com/ayusman/handtrack/internal/imaging"
)

const tracerName = "github.com/ayusman/handtrack/internal/tracker"

// FrameSink receives the normalized buffer of every estimated cycle, e.g. to
// serve a live preview. The buffer is only valid during the call.
type FrameSink interface {
	WriteFrame(buf *imaging.Buffer, pos *hand.Position)
}

// Config holds the tracker's collaborators. Zero values pick defaults.
type Config struct {
	// Scheduler paces the cycles. Defaults to a 60 Hz FrameScheduler.
	Scheduler Scheduler

	// Reporter receives every result. Defaults to a LogReporter.
	Reporter Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// MotionThreshold enables the motion gate when positive: frames where
	// less than this percentage of pixels changed skip inference.
	MotionThreshold float64

	// Preview receives the normalized buffer of each estimated cycle.
	Preview FrameSink

	// TrailLength bounds the recent-position trail kept for Status.
	TrailLength int
}

// Status is a snapshot of the tracker for readers outside the loop.
type Status struct {
	State      State             `json:"state"`
	Paused     bool              `json:"paused"`
	Source     string            `json:"source,omitempty"`
	Cycles     uint64            `json:"cycles"`
	Detections uint64            `json:"detections"`
	Errors     map[string]uint64 `json:"errors"`
	LastHand   *hand.Position    `json:"lastHand,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	LastCycle  time.Time         `json:"lastCycle,omitempty"`
	Trail      []hand.TrailPoint `json:"trail"`
	Speed      float64           `json:"speed"`
}

// Tracker owns the drive loop. One goroutine runs it; Status, SetPaused and
// Stop may be called from anywhere.
type Tracker struct {
	scheduler Scheduler
	reporter  Reporter
	logger    *slog.Logger
	tracer    trace.Tracer
	preview   FrameSink
	motion    *capture.MotionGate
	trail     *hand.Trail

	mu         sync.RWMutex
	state      State
	paused     bool
	source     string
	cycles     uint64
	detections uint64
	errors     map[Kind]uint64
	last       *Result // most recent reported cycle
	estimated  *Result // most recent cycle that reached selection
	cancel     context.CancelFunc
	running    bool
	pauseHooks []func(paused bool)
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		scheduler: cfg.Scheduler,
		reporter:  cfg.Reporter,
		logger:    logger,
		tracer:    cfg.Tracer,
		preview:   cfg.Preview,
		trail:     hand.NewTrail(cfg.TrailLength),
		state:     StateIdle,
		errors:    make(map[Kind]uint64),
	}

	if t.scheduler == nil {
		t.scheduler = NewFrameScheduler(DefaultRefreshRate)
	}
	if t.reporter == nil {
		t.reporter = NewLogReporter(logger)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}
	if cfg.MotionThreshold > 0 {
		t.motion = capture.NewMotionGate(cfg.MotionThreshold)
	}

	return t
}

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("tracker already running")

// Run initializes a tracking context from setup and runs cycles until ctx is
// cancelled or Stop is called. It returns nil on a requested stop and an
// InitializationError if setup fails, in which case no cycle runs. Per-cycle
// failures are reported and never stop the loop.
func (t *Tracker) Run(ctx context.Context, setup Setup) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.cancel = cancel
	t.state = StateIdle
	if setup.Source != nil {
		t.source = setup.Source.Describe()
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.cancel = nil
		t.state = StateStopped
		t.mu.Unlock()
	}()

	tc, err := Initialize(setup)
	if err != nil {
		t.countError(err)
		t.logger.Error("tracker initialization failed", "err", err)
		return err
	}
	defer func() {
		if err := Teardown(tc); err != nil {
			t.logger.Warn("tracker teardown", "err", err)
		}
		if t.motion != nil {
			t.motion.Close()
		}
	}()

	t.logger.Info("tracker started",
		"source", tc.Source.Describe(),
		"scale", tc.Options.ScaleFactor,
		"stride", tc.Options.OutputStride,
		"flip", tc.Options.FlipHorizontal,
	)

	for {
		if err := t.scheduler.Next(ctx); err != nil {
			break
		}
		if t.Paused() {
			continue
		}
		t.runCycle(ctx, tc)
		if ctx.Err() != nil {
			break
		}
	}

	t.logger.Info("tracker stopped", "cycles", t.Status().Cycles)
	return nil
}

// Stop asks a running loop to stop. The current stage is abandoned.
func (t *Tracker) Stop() {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// SetPaused pauses or resumes the loop. A paused loop keeps ticking but
// runs no cycles.
func (t *Tracker) SetPaused(paused bool) {
	t.mu.Lock()
	changed := t.paused != paused
	t.paused = paused
	hooks := t.pauseHooks
	t.mu.Unlock()

	if changed {
		t.logger.Info("tracker paused", "paused", paused)
		if !paused && t.motion != nil {
			t.motion.Reset()
		}
		for _, fn := range hooks {
			fn(paused)
		}
	}
}

// OnPauseChange registers fn to be called after every pause state change,
// whichever caller made it.
func (t *Tracker) OnPauseChange(fn func(paused bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseHooks = append(t.pauseHooks, fn)
}

// Paused reports whether the loop is paused.
func (t *Tracker) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Status{
		State:      t.state,
		Paused:     t.paused,
		Source:     t.source,
		Cycles:     t.cycles,
		Detections: t.detections,
		Errors:     make(map[string]uint64, len(t.errors)),
		Trail:      t.trail.Points(),
		Speed:      t.trail.Speed(),
	}
	for k, n := range t.errors {
		s.Errors[k.String()] = n
	}
	if t.last != nil {
		s.LastCycle = t.last.Time
		if t.last.Hand != nil {
			h := *t.last.Hand
			s.LastHand = &h
		}
		if t.last.Err != nil {
			s.LastError = t.last.Err.Error()
		}
	}
	return s
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) countError(err error) {
	kind, ok := KindOf(err)
	if !ok {
		return
	}
	t.mu.Lock()
	t.errors[kind]++
	t.mu.Unlock()
}

// runCycle performs one capture-to-report pass. A cancelled context abandons
// the cycle without reporting it.
func (t *Tracker) runCycle(ctx context.Context, tc *Context) {
	t.mu.Lock()
	t.cycles++
	cycle := t.cycles
	t.mu.Unlock()

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "tracker.cycle",
		trace.WithAttributes(attribute.Int64("cycle", int64(cycle))))
	defer span.End()

	res := t.process(ctx, tc, cycle)
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return
	}
	res.Time = start
	res.Duration = time.Since(start)

	t.setState(StateReporting)
	span.AddEvent("report")

	if res.Err != nil {
		t.countError(res.Err)
		if !IsKind(res.Err, NoHandDetected) {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}
	if res.Hand != nil {
		span.SetAttributes(
			attribute.String("hand.part", string(res.Hand.Part)),
			attribute.Float64("hand.score", res.Hand.Score),
		)
	}

	t.record(res)
	t.reporter.Report(res)
}

// process runs the stages of one cycle, checking for cancellation between them.
func (t *Tracker) process(ctx context.Context, tc *Context, cycle uint64) Result {
	res := Result{Cycle: cycle}
	span := trace.SpanFromContext(ctx)

	t.setState(StateCapturingFrame)
	span.AddEvent("capture")
	frame, data, err := capture.Read(tc.Source)
	if err != nil {
		res.Err = &Error{Kind: CaptureError, Stage: StateCapturingFrame, Cycle: cycle, Err: err}
		return res
	}
	if frame != nil {
		defer frame.Close()
	}
	if ctx.Err() != nil {
		return res
	}

	if frame != nil {
		if prev, ok := t.static(frame, cycle, span); ok {
			return prev
		}
	}

	t.setState(StateNormalizing)
	span.AddEvent("normalize")
	var buf *imaging.Buffer
	if frame != nil {
		buf, err = imaging.Normalize(*frame)
	} else {
		buf, err = imaging.Decode(data)
	}
	if err != nil {
		res.Err = normalizeError(cycle, err)
		return res
	}
	defer buf.Close()
	if ctx.Err() != nil {
		return res
	}

	if frame == nil {
		if prev, ok := t.static(&buf.Mat, cycle, span); ok {
			return prev
		}
	}

	t.setState(StateEstimating)
	span.AddEvent("estimate")
	keypoints, err := tc.Estimator.Estimate(ctx, &buf.Mat, tc.Options)
	if err != nil {
		if ctx.Err() != nil {
			return res
		}
		res.Err = &Error{Kind: InferenceError, Stage: StateEstimating, Cycle: cycle, Err: err}
		return res
	}
	if ctx.Err() != nil {
		return res
	}

	t.setState(StateSelecting)
	span.AddEvent("select")
	pos, err := hand.Select(keypoints)
	if err != nil {
		res.Err = selectError(cycle, err)
	} else {
		res.Hand = &pos
	}

	if t.preview != nil {
		t.preview.WriteFrame(buf, res.Hand)
	}

	return res
}

// static reports the previous estimated outcome, renumbered to cycle, when
// the motion gate finds mat unchanged.
func (t *Tracker) static(mat *gocv.Mat, cycle uint64, span trace.Span) (Result, bool) {
	if t.motion == nil {
		return Result{}, false
	}
	changed, pct := t.motion.Changed(mat)
	if changed {
		return Result{}, false
	}
	prev, ok := t.previous()
	if !ok {
		return Result{}, false
	}

	span.AddEvent("static", trace.WithAttributes(attribute.Float64("motion.pct", pct)))
	prev.Cycle = cycle
	prev.Static = true
	var e *Error
	if errors.As(prev.Err, &e) {
		renumbered := *e
		renumbered.Cycle = cycle
		prev.Err = &renumbered
	}
	return prev, true
}

// previous returns the last estimated outcome for the motion gate to reuse.
func (t *Tracker) previous() (Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.estimated == nil {
		return Result{}, false
	}
	prev := *t.estimated
	if prev.Hand != nil {
		h := *prev.Hand
		prev.Hand = &h
	}
	return prev, true
}

func (t *Tracker) record(res Result) {
	if res.Hand != nil {
		t.trail.Add(*res.Hand, res.Time)
	} else if IsKind(res.Err, NoHandDetected) {
		t.trail.Reset()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if res.Hand != nil {
		t.detections++
	}

	r := res
	t.last = &r
	if res.Err == nil || IsKind(res.Err, NoHandDetected) {
		t.estimated = &r
	}
}
