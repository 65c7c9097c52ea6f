package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/handtrack/internal/tracker"
)

// DefaultBatchSize is how many positions Recorder buffers before writing.
const DefaultBatchSize = 30

// maxPendingBatches bounds how many unwritten batches Recorder keeps while
// the database is failing. Older positions are dropped first.
const maxPendingBatches = 10

// Recorder is a tracker.Reporter that persists every cycle result into a
// session. Positions are written in batches; Close flushes the rest and
// finishes the session.
type Recorder struct {
	store     *Store
	session   *Session
	batchSize int
	logger    *slog.Logger

	mu         sync.Mutex
	pending    []Position
	cycles     int64
	detections int64
	dropped    int64
	failing    bool
	closed     bool
}

// NewRecorder creates the session row and returns a recorder for it.
func NewRecorder(s *Store, session *Session, batchSize int, logger *slog.Logger) (*Recorder, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := s.Sessions().Create(session); err != nil {
		return nil, err
	}

	return &Recorder{
		store:     s,
		session:   session,
		batchSize: batchSize,
		logger:    logger,
		pending:   make([]Position, 0, batchSize),
	}, nil
}

// SessionID returns the recorded session's ID.
func (r *Recorder) SessionID() string {
	return r.session.ID
}

// Report buffers one result and writes the batch when it is full.
func (r *Recorder) Report(res tracker.Result) {
	p := Position{
		SessionID:  r.session.ID,
		Cycle:      int64(res.Cycle),
		Detected:   res.Hand != nil,
		Static:     res.Static,
		CapturedAt: res.Time,
	}
	if res.Hand != nil {
		p.Part = string(res.Hand.Part)
		p.X = res.Hand.X
		p.Y = res.Hand.Y
		p.Score = res.Hand.Score
	}
	if res.Err != nil && !tracker.IsKind(res.Err, tracker.NoHandDetected) {
		p.Error = res.Err.Error()
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.cycles++
	if p.Detected {
		r.detections++
	}
	r.pending = append(r.pending, p)
	if limit := r.batchSize * maxPendingBatches; len(r.pending) > limit {
		n := len(r.pending) - limit
		r.pending = append(r.pending[:0], r.pending[n:]...)
		r.dropped += int64(n)
	}
	if len(r.pending) >= r.batchSize && (!r.failing || r.cycles%int64(r.batchSize) == 0) {
		r.flushLocked()
	}
}

// Dropped returns how many positions were discarded because the database
// stayed unwritable.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Flush writes buffered positions.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}

	if err := r.store.Positions().CreateBatch(r.session.ID, r.pending); err != nil {
		if !r.failing {
			r.logger.Error("failed to record positions", "session", r.session.ID, "count", len(r.pending), "err", err)
		}
		r.failing = true
		return err
	}
	if r.failing {
		r.logger.Info("recording positions again", "session", r.session.ID, "count", len(r.pending), "dropped", r.dropped)
	}
	r.failing = false
	r.pending = r.pending[:0]
	return nil
}

// Close flushes and stamps the session's stop time. Later reports are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	flushErr := r.flushLocked()

	if err := r.store.Sessions().Finish(r.session.ID, time.Now(), r.cycles, r.detections); err != nil {
		return err
	}
	return flushErr
}
