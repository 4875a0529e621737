package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"

	"github.com/rahul/kuruma/internal/sequencer"
)

var ErrNotFound = errors.New("not found")

// SaveReport persists a finished execution and every attempted step,
// including the halted one.
func (s *Store) SaveReport(ctx context.Context, chatID, instruction string, r sequencer.Report) error {
	profile, err := json.MarshalToString(r.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO executions
		(id, chat_id, instruction, summary, terminal_state, failure_detail, total_steps, completed_steps, profile, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExecutionID, chatID, instruction, r.Summary(), string(r.TerminalState), r.FailureDetail,
		r.TotalSteps, len(r.CompletedSteps), profile, formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", r.ExecutionID, err)
	}

	steps := r.CompletedSteps
	if r.Halted != nil {
		steps = append(append([]sequencer.StepRecord(nil), steps...), *r.Halted)
	}
	for _, st := range steps {
		effective, err := json.MarshalToString(st.Effective)
		if err != nil {
			return fmt.Errorf("encode step %d: %w", st.Index, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO execution_steps
			(execution_id, step_index, action, effective, outcome, detail, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ExecutionID, st.Index, st.Action.String(), effective, string(st.Outcome.Kind), st.Outcome.Detail,
			st.Outcome.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Index, err)
		}
	}
	return tx.Commit()
}

// ListExecutions returns the most recent executions first.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]ExecutionSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, chat_id, instruction, summary, terminal_state, failure_detail,
		total_steps, completed_steps, started_at, finished_at
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionSummary
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExecution returns one execution with its steps in order.
func (s *Store) GetExecution(ctx context.Context, id string) (ExecutionSummary, []StepRow, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, chat_id, instruction, summary, terminal_state, failure_detail,
		total_steps, completed_steps, started_at, finished_at
		FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecutionSummary{}, nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ExecutionSummary{}, nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT step_index, action, effective, outcome, detail, elapsed_ms
		FROM execution_steps WHERE execution_id = ? ORDER BY step_index`, id)
	if err != nil {
		return ExecutionSummary{}, nil, err
	}
	defer rows.Close()

	var steps []StepRow
	for rows.Next() {
		var st StepRow
		var detail sql.NullString
		var elapsed int64
		if err := rows.Scan(&st.Index, &st.Action, &st.Effective, &st.Outcome, &detail, &elapsed); err != nil {
			return ExecutionSummary{}, nil, err
		}
		st.Detail = detail.String
		st.Elapsed = time.Duration(elapsed) * time.Millisecond
		steps = append(steps, st)
	}
	return e, steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (ExecutionSummary, error) {
	var e ExecutionSummary
	var chatID, instruction, detail sql.NullString
	var started, finished string
	err := sc.Scan(&e.ID, &chatID, &instruction, &e.Summary, &e.TerminalState, &detail,
		&e.TotalSteps, &e.CompletedSteps, &started, &finished)
	if err != nil {
		return ExecutionSummary{}, err
	}
	e.ChatID = chatID.String
	e.Instruction = instruction.String
	e.FailureDetail = detail.String
	e.StartedAt = parseTime(started)
	e.FinishedAt = parseTime(finished)
	return e, nil
}
