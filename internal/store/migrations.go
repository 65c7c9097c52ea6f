package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per tracker run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			backend TEXT NOT NULL,
			multiplier REAL NOT NULL,
			scale_factor REAL NOT NULL,
			output_stride INTEGER NOT NULL,
			flip_horizontal INTEGER NOT NULL DEFAULT 0,
			cycles INTEGER NOT NULL DEFAULT 0,
			detections INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME
		)`,

		// Positions table - one row per reported cycle
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			cycle INTEGER NOT NULL,
			detected INTEGER NOT NULL,
			part TEXT NOT NULL DEFAULT '',
			x REAL NOT NULL DEFAULT 0,
			y REAL NOT NULL DEFAULT 0,
			score REAL NOT NULL DEFAULT 0,
			static INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			captured_at DATETIME NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_positions_session_cycle ON positions(session_id, cycle)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
