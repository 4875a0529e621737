package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store is the sqlite-backed record of conversations, executions and
// calibration changes.
type Store struct {
	DB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			chat_id TEXT,
			instruction TEXT,
			summary TEXT,
			terminal_state TEXT NOT NULL,
			failure_detail TEXT,
			total_steps INTEGER NOT NULL,
			completed_steps INTEGER NOT NULL,
			profile TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
			execution_id TEXT NOT NULL REFERENCES executions(id),
			step_index INTEGER NOT NULL,
			action TEXT NOT NULL,
			effective TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (execution_id, step_index)
		);`,
		`CREATE TABLE IF NOT EXISTS calibration_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			left_correction REAL NOT NULL,
			right_correction REAL NOT NULL,
			minimum_speed_percent INTEGER NOT NULL,
			note TEXT,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
		}
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
