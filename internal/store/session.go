package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session represents one tracker run.
type Session struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Backend        string     `json:"backend"`
	Multiplier     float64    `json:"multiplier"`
	ScaleFactor    float64    `json:"scaleFactor"`
	OutputStride   int        `json:"outputStride"`
	FlipHorizontal bool       `json:"flipHorizontal"`
	Cycles         int64      `json:"cycles"`
	Detections     int64      `json:"detections"`
	StartedAt      time.Time  `json:"startedAt"`
	StoppedAt      *time.Time `json:"stoppedAt,omitempty"`
}

// Running reports whether the session has not been finished.
func (s *Session) Running() bool {
	return s.StoppedAt == nil
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, source, backend, multiplier, scale_factor, output_stride,
	flip_horizontal, cycles, detections, started_at, stopped_at`

// Create inserts a new session. An empty ID is replaced with a random UUID
// and a zero StartedAt with the current time.
func (r *SessionRepository) Create(s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Source, s.Backend, s.Multiplier, s.ScaleFactor, s.OutputStride,
		s.FlipHorizontal, s.Cycles, s.Detections, s.StartedAt, s.StoppedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var stopped sql.NullTime

	err := row.Scan(&s.ID, &s.Source, &s.Backend, &s.Multiplier, &s.ScaleFactor, &s.OutputStride,
		&s.FlipHorizontal, &s.Cycles, &s.Detections, &s.StartedAt, &stopped)
	if err != nil {
		return nil, err
	}

	if stopped.Valid {
		t := stopped.Time
		s.StoppedAt = &t
	}
	return s, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves sessions, newest first. A non-positive limit returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Finish stamps the session's stop time and final counters.
func (r *SessionRepository) Finish(id string, stoppedAt time.Time, cycles, detections int64) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET stopped_at = ?, cycles = ?, detections = ? WHERE id = ?`,
		stoppedAt, cycles, detections, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a session and, through the foreign key, its positions.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
