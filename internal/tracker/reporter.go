package tracker

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/handtrack/internal/hand"
)

// Result is the outcome of one cycle.
type Result struct {
	Cycle    uint64
	Time     time.Time
	Hand     *hand.Position // nil when no hand was found or the cycle failed
	Err      error          // *Error, or nil on success
	Duration time.Duration
	Static   bool // motion gate reused the previous outcome
}

// Detected reports whether the cycle produced a hand position.
func (r Result) Detected() bool {
	return r.Hand != nil
}

// Reporter consumes cycle results. Report runs inside the loop goroutine and
// must not block for long.
type Reporter interface {
	Report(r Result)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(r Result)

func (f ReporterFunc) Report(r Result) { f(r) }

// MultiReporter fans a result out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(r Result) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(r)
		}
	}
}

// LogReporter writes one log line per cycle.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter; a nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Report(r Result) {
	switch {
	case r.Hand != nil:
		l.logger.Info("hand",
			"cycle", r.Cycle,
			"part", r.Hand.Part,
			"x", r.Hand.X,
			"y", r.Hand.Y,
			"score", r.Hand.Score,
			"static", r.Static,
			"took", r.Duration,
		)
	case IsKind(r.Err, NoHandDetected):
		l.logger.Info("no hand", "cycle", r.Cycle, "took", r.Duration)
	case r.Err != nil:
		kind, _ := KindOf(r.Err)
		l.logger.Warn("cycle abandoned", "cycle", r.Cycle, "kind", kind.String(), "err", r.Err)
	}
}

// positionLine is the JSON shape written by JSONReporter.
type positionLine struct {
	Cycle    uint64    `json:"cycle"`
	Time     time.Time `json:"time"`
	Detected bool      `json:"detected"`
	Part     string    `json:"part,omitempty"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Score    float64   `json:"score"`
	Static   bool      `json:"static,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// JSONReporter writes each result as one JSON line to w, typically a
// rotating log file.
type JSONReporter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	logger  *slog.Logger
	failing bool
}

// NewJSONReporter creates a JSONReporter writing to w. Write failures are
// logged to logger (slog.Default() when nil) once per failing streak.
func NewJSONReporter(w io.Writer, logger *slog.Logger) *JSONReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONReporter{enc: json.NewEncoder(w), logger: logger}
}

func (j *JSONReporter) Report(r Result) {
	line := positionLine{
		Cycle:    r.Cycle,
		Time:     r.Time,
		Detected: r.Hand != nil,
		Static:   r.Static,
	}
	if r.Hand != nil {
		line.Part = string(r.Hand.Part)
		line.X = r.Hand.X
		line.Y = r.Hand.Y
		line.Score = r.Hand.Score
	}
	if r.Err != nil && !IsKind(r.Err, NoHandDetected) {
		line.Error = r.Err.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(line); err != nil {
		if !j.failing {
			j.logger.Error("position log write failed", "cycle", r.Cycle, "err", err)
		}
		j.failing = true
		return
	}
	if j.failing {
		j.logger.Info("position log writable again", "cycle", r.Cycle)
	}
	j.failing = false
}
