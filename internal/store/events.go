package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/domain"
)

// AppendEvent inserts an event record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - replayed feed messages
// with the same ID are silently ignored.
func (s *Store) AppendEvent(ctx context.Context, ev domain.Event) error {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("append event: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, client_id, type, ts, payload_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.ClientID, ev.Type, encodeTime(ev.Timestamp), string(payloadJSON))
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns a client's events in a time range, oldest first.
func (s *Store) ListEvents(ctx context.Context, clientID string, since time.Time) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, type, ts, payload_json
		FROM events WHERE client_id = ? AND ts >= ? ORDER BY ts
	`, clientID, encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var ts, payloadJSON string
		if err := rows.Scan(&ev.ID, &ev.ClientID, &ev.Type, &ts, &payloadJSON); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = decodeTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppendSnapshot inserts a metric snapshot.
// Idempotent on snapshot ID, like AppendEvent.
func (s *Store) AppendSnapshot(ctx context.Context, snap domain.MetricSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (id, client_id, metric_id, value, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, snap.ID, snap.ClientID, snap.MetricID, snap.Value, encodeTime(snap.Timestamp))
	if err != nil {
		return fmt.Errorf("append snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a client/metric pair,
// or (nil, nil) when none exists. Absence is a valid result, not an error.
func (s *Store) LatestSnapshot(ctx context.Context, clientID, metricID string) (*domain.MetricSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, metric_id, value, ts
		FROM metric_snapshots
		WHERE client_id = ? AND metric_id = ?
		ORDER BY ts DESC LIMIT 1
	`, clientID, metricID)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s/%s: %w", clientID, metricID, err)
	}
	return snap, nil
}

// RecentSnapshots returns up to limit snapshots for a client/metric pair,
// newest first. Used by "previous" comparison resolution (limit 2).
func (s *Store) RecentSnapshots(ctx context.Context, clientID, metricID string, limit int) ([]domain.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, metric_id, value, ts
		FROM metric_snapshots
		WHERE client_id = ? AND metric_id = ?
		ORDER BY ts DESC LIMIT ?
	`, clientID, metricID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots %s/%s: %w", clientID, metricID, err)
	}
	defer rows.Close()

	var out []domain.MetricSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// TrailingMean returns the mean snapshot value since the given instant.
// ok is false when no snapshots fall inside the window.
func (s *Store) TrailingMean(ctx context.Context, clientID, metricID string, since time.Time) (mean float64, ok bool, err error) {
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(value) FROM metric_snapshots
		WHERE client_id = ? AND metric_id = ? AND ts >= ?
	`, clientID, metricID, encodeTime(since)).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("trailing mean %s/%s: %w", clientID, metricID, err)
	}
	return avg.Float64, avg.Valid, nil
}

// BestValue returns the historical maximum snapshot value.
// ok is false when the series is empty.
func (s *Store) BestValue(ctx context.Context, clientID, metricID string) (best float64, ok bool, err error) {
	var max sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(value) FROM metric_snapshots
		WHERE client_id = ? AND metric_id = ?
	`, clientID, metricID).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("best value %s/%s: %w", clientID, metricID, err)
	}
	return max.Float64, max.Valid, nil
}

func scanSnapshot(row rowScanner) (*domain.MetricSnapshot, error) {
	var snap domain.MetricSnapshot
	var ts string
	if err := row.Scan(&snap.ID, &snap.ClientID, &snap.MetricID, &snap.Value, &ts); err != nil {
		return nil, err
	}
	var err error
	if snap.Timestamp, err = decodeTime(ts); err != nil {
		return nil, err
	}
	return &snap, nil
}
