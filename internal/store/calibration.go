package store

import (
	"context"
	"time"

	"github.com/rahul/kuruma/internal/calibration"
)

// RecordProfile appends p to the calibration history.
func (s *Store) RecordProfile(ctx context.Context, p calibration.Profile, note string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO calibration_profiles
		(left_correction, right_correction, minimum_speed_percent, note, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.LeftCorrection, p.RightCorrection, p.MinimumSpeedPercent, note, formatTime(time.Now()))
	return err
}

// ProfileHistory returns recorded profiles, newest first.
func (s *Store) ProfileHistory(ctx context.Context, limit int) ([]ProfileRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, left_correction, right_correction, minimum_speed_percent, note, recorded_at
		FROM calibration_profiles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProfileRecord
	for rows.Next() {
		var r ProfileRecord
		var recorded string
		if err := rows.Scan(&r.ID, &r.Profile.LeftCorrection, &r.Profile.RightCorrection,
			&r.Profile.MinimumSpeedPercent, &r.Note, &recorded); err != nil {
			return nil, err
		}
		r.RecordedAt = parseTime(recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}
