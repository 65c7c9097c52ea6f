package hand

import (
	"math"
	"sync"
	"time"
)

// DefaultTrailLength is the number of positions a Trail keeps by default.
const DefaultTrailLength = 30

// TrailPoint is a tracked position with its capture time.
type TrailPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"` // milliseconds
}

// Trail keeps the most recent hand positions, oldest first.
// It is safe for concurrent use.
type Trail struct {
	mu     sync.RWMutex
	points []TrailPoint
	limit  int
}

// NewTrail creates a trail holding at most limit points.
// Non-positive limits use DefaultTrailLength.
func NewTrail(limit int) *Trail {
	if limit <= 0 {
		limit = DefaultTrailLength
	}
	return &Trail{
		points: make([]TrailPoint, 0, limit),
		limit:  limit,
	}
}

// Add appends a position, dropping the oldest point when full.
func (t *Trail) Add(p Position, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.points) == t.limit {
		copy(t.points, t.points[1:])
		t.points = t.points[:t.limit-1]
	}
	t.points = append(t.points, TrailPoint{X: p.X, Y: p.Y, Timestamp: at.UnixMilli()})
}

// Reset empties the trail, e.g. when the hand is lost.
func (t *Trail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = t.points[:0]
}

// Points returns a copy of the trail.
func (t *Trail) Points() []TrailPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TrailPoint, len(t.points))
	copy(out, t.points)
	return out
}

// Len returns the number of stored points.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.points)
}

// Distance returns the total path length of the trail in pixels.
func (t *Trail) Distance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for i := 1; i < len(t.points); i++ {
		total += pointDistance(t.points[i-1], t.points[i])
	}
	return total
}

// Speed returns the average speed over the trail in pixels per second.
// It is zero when the trail spans no time.
func (t *Trail) Speed() float64 {
	t.mu.RLock()
	n := len(t.points)
	var span int64
	if n > 1 {
		span = t.points[n-1].Timestamp - t.points[0].Timestamp
	}
	t.mu.RUnlock()

	if span <= 0 {
		return 0
	}
	return t.Distance() / (float64(span) / 1000)
}

func pointDistance(a, b TrailPoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
