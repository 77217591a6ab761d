package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/domain"
)

// CooldownActive reports whether a fired=true record exists for the
// (directive, client) pair within the rolling window ending at `at`.
// Used as a cheap pre-check before dispatch; the authoritative check
// happens inside WriteFiringAtomic.
func (s *Store) CooldownActive(ctx context.Context, directiveID, clientID string, at time.Time, window time.Duration) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM firing_records
		WHERE directive_id = ? AND client_id = ? AND fired = 1 AND fired_at > ?
	`, directiveID, clientID, encodeTime(at.Add(-window))).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("cooldown check: %w", err)
	}
	return count > 0, nil
}

// WriteFiringAtomic atomically claims the cooldown window, writes the
// firing record, and increments the directive counter in one transaction.
// Either all three happen or none: no counter increments without a record,
// no record without the counter update.
//
// For fired=true records, the cooldown is re-checked inside the transaction;
// if another fire already claimed the window, nothing is written and
// inserted=false is returned (callers log this as duplicate-suppressed).
//
// Failed records (fired=false) are always written but never consume the
// cooldown and never touch the counter, so a failed dispatch may retry on
// the next trigger opportunity.
func (s *Store) WriteFiringAtomic(ctx context.Context, rec domain.FiringRecord, window time.Duration) (inserted bool, err error) {
	dataPointsJSON, err := json.Marshal(rec.DataPoints)
	if err != nil {
		return false, fmt.Errorf("atomic firing: marshal data points: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("atomic firing: begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.Fired {
		// Re-check the cooldown inside the transaction. SQLite's single
		// writer makes this check-and-insert atomic.
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM firing_records
			WHERE directive_id = ? AND client_id = ? AND fired = 1 AND fired_at > ?
		`, rec.DirectiveID, rec.ClientID, encodeTime(rec.FiredAt.Add(-window))).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("atomic firing: cooldown check: %w", err)
		}
		if count > 0 {
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("atomic firing: commit (suppressed): %w", err)
			}
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO firing_records
		(id, directive_id, client_id, fired_at, fired, data_points_json,
		 payload, attempts, outcome, message_id, feedback_applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID, rec.DirectiveID, rec.ClientID, encodeTime(rec.FiredAt), rec.Fired,
		string(dataPointsJSON), string(rec.Payload), rec.Attempts, rec.Outcome, rec.MessageID,
	)
	if err != nil {
		return false, fmt.Errorf("atomic firing: insert record: %w", err)
	}

	if rec.Fired {
		if _, err := tx.ExecContext(ctx, `
			UPDATE directives
			SET triggered_count = triggered_count + 1, last_triggered_at = ?
			WHERE id = ?
		`, encodeTime(rec.FiredAt), rec.DirectiveID); err != nil {
			return false, fmt.Errorf("atomic firing: update counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("atomic firing: commit: %w", err)
	}
	return true, nil
}

const firingColumns = `
	id, directive_id, client_id, fired_at, fired, data_points_json,
	payload, attempts, outcome, message_id, feedback_score, feedback_at, feedback_applied`

// ListFirings returns a directive's firing history, newest first.
// This is the read model behind the dashboard history view.
func (s *Store) ListFirings(ctx context.Context, directiveID string, limit int) ([]domain.FiringRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+firingColumns+`
		FROM firing_records WHERE directive_id = ?
		ORDER BY fired_at DESC LIMIT ?
	`, directiveID, limit)
	if err != nil {
		return nil, fmt.Errorf("list firings: %w", err)
	}
	defer rows.Close()
	return collectFirings(rows)
}

// FiringsInWindow returns fired=true records for a (directive, client)
// pair inside [from, to). Used by tests asserting the cooldown invariant.
func (s *Store) FiringsInWindow(ctx context.Context, directiveID, clientID string, from, to time.Time) ([]domain.FiringRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+firingColumns+`
		FROM firing_records
		WHERE directive_id = ? AND client_id = ? AND fired = 1
		  AND fired_at >= ? AND fired_at < ?
		ORDER BY fired_at
	`, directiveID, clientID, encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("firings in window: %w", err)
	}
	defer rows.Close()
	return collectFirings(rows)
}

// RecordFeedback stores the engagement signal reported by the delivery/
// feedback channel for a firing record. Score must be in [0, 1].
func (s *Store) RecordFeedback(ctx context.Context, recordID string, score float64, at time.Time) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("record feedback: score %v outside [0,1]", score)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE firing_records SET feedback_score = ?, feedback_at = ?
		WHERE id = ? AND fired = 1
	`, score, encodeTime(at), recordID)
	if err != nil {
		return fmt.Errorf("record feedback %s: %w", recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record feedback: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record feedback: fired record %s not found", recordID)
	}
	return nil
}

// PendingOutcomes returns fired records whose feedback window has elapsed
// and whose signal has not yet been folded into the directive's score.
func (s *Store) PendingOutcomes(ctx context.Context, firedBefore time.Time) ([]domain.FiringRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+firingColumns+`
		FROM firing_records
		WHERE fired = 1 AND feedback_score IS NOT NULL
		  AND feedback_applied = 0 AND fired_at <= ?
		ORDER BY fired_at
	`, encodeTime(firedBefore))
	if err != nil {
		return nil, fmt.Errorf("pending outcomes: %w", err)
	}
	defer rows.Close()
	return collectFirings(rows)
}

// ApplyOutcome folds one record's feedback signal into the directive's
// effectiveness score as an exponentially-weighted moving average, and
// marks the record applied. The read-compute-write runs in one transaction.
func (s *Store) ApplyOutcome(ctx context.Context, recordID string, alpha float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply outcome: begin tx: %w", err)
	}
	defer tx.Rollback()

	var directiveID string
	var score sql.NullFloat64
	var applied bool
	err = tx.QueryRowContext(ctx, `
		SELECT directive_id, feedback_score, feedback_applied
		FROM firing_records WHERE id = ? AND fired = 1
	`, recordID).Scan(&directiveID, &score, &applied)
	if err == sql.ErrNoRows {
		return fmt.Errorf("apply outcome: fired record %s not found", recordID)
	}
	if err != nil {
		return fmt.Errorf("apply outcome: read record: %w", err)
	}
	if applied {
		return tx.Commit()
	}
	if !score.Valid {
		return fmt.Errorf("apply outcome: record %s has no feedback", recordID)
	}

	var current sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT effectiveness_score FROM directives WHERE id = ?`, directiveID).Scan(&current)
	if err != nil {
		return fmt.Errorf("apply outcome: read directive score: %w", err)
	}

	// First resolved firing seeds the score; later ones blend in.
	next := score.Float64
	if current.Valid {
		next = alpha*score.Float64 + (1-alpha)*current.Float64
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE directives SET effectiveness_score = ? WHERE id = ?`, next, directiveID); err != nil {
		return fmt.Errorf("apply outcome: update directive: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE firing_records SET feedback_applied = 1 WHERE id = ?`, recordID); err != nil {
		return fmt.Errorf("apply outcome: mark applied: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply outcome: commit: %w", err)
	}
	return nil
}

func collectFirings(rows *sql.Rows) ([]domain.FiringRecord, error) {
	var out []domain.FiringRecord
	for rows.Next() {
		var (
			rec            domain.FiringRecord
			firedAt        string
			dataPointsJSON string
			payload        string
			feedbackScore  sql.NullFloat64
			feedbackAt     sql.NullString
		)
		err := rows.Scan(
			&rec.ID, &rec.DirectiveID, &rec.ClientID, &firedAt, &rec.Fired,
			&dataPointsJSON, &payload, &rec.Attempts, &rec.Outcome, &rec.MessageID,
			&feedbackScore, &feedbackAt, &rec.FeedbackApplied,
		)
		if err != nil {
			return nil, err
		}
		if rec.FiredAt, err = decodeTime(firedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataPointsJSON), &rec.DataPoints); err != nil {
			return nil, fmt.Errorf("unmarshal data points: %w", err)
		}
		rec.Payload = []byte(payload)
		if feedbackScore.Valid {
			v := feedbackScore.Float64
			rec.FeedbackScore = &v
		}
		if rec.FeedbackAt, err = decodeTimePtr(feedbackAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
