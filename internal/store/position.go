package store

import (
	"database/sql"
	"time"
)

// Position represents one recorded cycle of a session.
type Position struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Cycle      int64     `json:"cycle"`
	Detected   bool      `json:"detected"`
	Part       string    `json:"part,omitempty"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Score      float64   `json:"score"`
	Static     bool      `json:"static,omitempty"`
	Error      string    `json:"error,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// PositionRepository provides access to recorded positions.
type PositionRepository struct {
	db *sql.DB
}

// Positions returns the position repository for this store.
func (s *Store) Positions() *PositionRepository {
	return &PositionRepository{db: s.db}
}

// CreateBatch inserts positions for a session in a single transaction and
// adds them to the session's counters.
func (r *PositionRepository) CreateBatch(sessionID string, positions []Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO positions (session_id, cycle, detected, part, x, y, score, static, error, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var detections int64
	for _, p := range positions {
		if p.Detected {
			detections++
		}
		_, err := stmt.Exec(sessionID, p.Cycle, p.Detected, p.Part, p.X, p.Y, p.Score, p.Static, p.Error, p.CapturedAt)
		if err != nil {
			return err
		}
	}

	result, err := tx.Exec(
		`UPDATE sessions SET cycles = cycles + ?, detections = detections + ? WHERE id = ?`,
		len(positions), detections, sessionID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// ListBySession retrieves a session's positions in cycle order, skipping the
// first offset rows. A non-positive limit returns all remaining rows.
func (r *PositionRepository) ListBySession(sessionID string, limit, offset int) ([]Position, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, cycle, detected, part, x, y, score, static, error, captured_at
		 FROM positions
		 WHERE session_id = ?
		 ORDER BY cycle
		 LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		err := rows.Scan(&p.ID, &p.SessionID, &p.Cycle, &p.Detected, &p.Part, &p.X, &p.Y,
			&p.Score, &p.Static, &p.Error, &p.CapturedAt)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// CountBySession returns how many positions a session recorded.
func (r *PositionRepository) CountBySession(sessionID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
