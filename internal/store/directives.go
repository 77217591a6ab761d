package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/coachflow/internal/domain"
)

// PutDirective validates and upserts a directive definition.
// Structural validation happens first; then the scope target is checked
// against live groups/clients so a directive referencing a deleted or
// archived target is rejected at authoring time.
func (s *Store) PutDirective(ctx context.Context, d domain.Directive) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := s.checkScopeTarget(ctx, d); err != nil {
		return err
	}

	triggerJSON, err := json.Marshal(d.Trigger)
	if err != nil {
		return fmt.Errorf("put directive: marshal trigger: %w", err)
	}
	dataPointsJSON, err := json.Marshal(d.DataPoints)
	if err != nil {
		return fmt.Errorf("put directive: marshal data points: %w", err)
	}
	paramsJSON, err := json.Marshal(d.ActionParams)
	if err != nil {
		return fmt.Errorf("put directive: marshal action params: %w", err)
	}

	var lastTriggered any
	if d.LastTriggeredAt != nil {
		lastTriggered = encodeTime(*d.LastTriggeredAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO directives
		(id, mentor_id, name, scope_kind, scope_target, trigger_json,
		 data_points_json, action, action_params_json, tone, urgency, format,
		 to_client, to_mentor, is_active, triggered_count, last_triggered_at,
		 effectiveness_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mentor_id = excluded.mentor_id,
			name = excluded.name,
			scope_kind = excluded.scope_kind,
			scope_target = excluded.scope_target,
			trigger_json = excluded.trigger_json,
			data_points_json = excluded.data_points_json,
			action = excluded.action,
			action_params_json = excluded.action_params_json,
			tone = excluded.tone,
			urgency = excluded.urgency,
			format = excluded.format,
			to_client = excluded.to_client,
			to_mentor = excluded.to_mentor,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`,
		d.ID, d.MentorID, d.Name, string(d.Scope.Kind), scopeTarget(d.Scope),
		string(triggerJSON), string(dataPointsJSON), string(d.Action), string(paramsJSON),
		d.Delivery.Tone, d.Delivery.Urgency, d.Delivery.Format,
		d.Recipients.ToClient, d.Recipients.ToMentor, d.IsActive,
		d.TriggeredCount, lastTriggered, d.EffectivenessScore,
		encodeTime(d.CreatedAt), encodeTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put directive %s: %w", d.ID, err)
	}
	return nil
}

// checkScopeTarget rejects directives whose scope references a missing
// group/client or an archived group.
func (s *Store) checkScopeTarget(ctx context.Context, d domain.Directive) error {
	switch d.Scope.Kind {
	case domain.ScopeGroup:
		g, err := s.GetGroup(ctx, d.Scope.GroupID)
		if err != nil {
			return err
		}
		if g == nil || g.Archived {
			return &domain.ValidationError{
				Field:   "scope.group_id",
				Message: fmt.Sprintf("group %q does not exist or is archived", d.Scope.GroupID),
			}
		}
	case domain.ScopeClient:
		c, err := s.GetClient(ctx, d.Scope.ClientID)
		if err != nil {
			return err
		}
		if c == nil {
			return &domain.ValidationError{
				Field:   "scope.client_id",
				Message: fmt.Sprintf("client %q does not exist", d.Scope.ClientID),
			}
		}
	}
	return nil
}

func scopeTarget(sc domain.Scope) string {
	switch sc.Kind {
	case domain.ScopeGroup:
		return sc.GroupID
	case domain.ScopeClient:
		return sc.ClientID
	default:
		return ""
	}
}

const directiveColumns = `
	id, mentor_id, name, scope_kind, scope_target, trigger_json,
	data_points_json, action, action_params_json, tone, urgency, format,
	to_client, to_mentor, is_active, triggered_count, last_triggered_at,
	effectiveness_score, created_at, updated_at`

// GetDirective reads one directive by ID. Returns (nil, nil) when absent.
func (s *Store) GetDirective(ctx context.Context, id string) (*domain.Directive, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+directiveColumns+` FROM directives WHERE id = ?`, id)
	d, err := scanDirective(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get directive %s: %w", id, err)
	}
	return d, nil
}

// ListDirectives returns all directives for a mentor, newest first.
func (s *Store) ListDirectives(ctx context.Context, mentorID string) ([]domain.Directive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+directiveColumns+` FROM directives WHERE mentor_id = ? ORDER BY created_at DESC`,
		mentorID)
	if err != nil {
		return nil, fmt.Errorf("list directives: %w", err)
	}
	defer rows.Close()
	return collectDirectives(rows)
}

// ListActiveDirectives returns every active directive across mentors.
// The engine consults this on each evaluation cycle so deactivation takes
// effect by the next cycle at the latest.
func (s *Store) ListActiveDirectives(ctx context.Context) ([]domain.Directive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+directiveColumns+` FROM directives WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active directives: %w", err)
	}
	defer rows.Close()
	return collectDirectives(rows)
}

// SetDirectiveActive flips the active flag.
func (s *Store) SetDirectiveActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE directives SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("set directive %s active=%v: %w", id, active, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set directive active: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set directive active: directive %s not found", id)
	}
	return nil
}

// DeleteDirective removes a directive definition. Firing records are
// retained: history is never retroactively invalidated.
func (s *Store) DeleteDirective(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM directives WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete directive %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirective(row rowScanner) (*domain.Directive, error) {
	var (
		d              domain.Directive
		scopeKind      string
		target         string
		triggerJSON    string
		dataPointsJSON string
		action         string
		paramsJSON     string
		lastTriggered  sql.NullString
		effectiveness  sql.NullFloat64
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&d.ID, &d.MentorID, &d.Name, &scopeKind, &target, &triggerJSON,
		&dataPointsJSON, &action, &paramsJSON,
		&d.Delivery.Tone, &d.Delivery.Urgency, &d.Delivery.Format,
		&d.Recipients.ToClient, &d.Recipients.ToMentor, &d.IsActive,
		&d.TriggeredCount, &lastTriggered, &effectiveness,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Scope.Kind = domain.ScopeKind(scopeKind)
	switch d.Scope.Kind {
	case domain.ScopeGroup:
		d.Scope.GroupID = target
	case domain.ScopeClient:
		d.Scope.ClientID = target
	}
	if err := json.Unmarshal([]byte(triggerJSON), &d.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(dataPointsJSON), &d.DataPoints); err != nil {
		return nil, fmt.Errorf("unmarshal data points: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &d.ActionParams); err != nil {
		return nil, fmt.Errorf("unmarshal action params: %w", err)
	}
	d.Action = domain.ActionType(action)

	if d.LastTriggeredAt, err = decodeTimePtr(lastTriggered); err != nil {
		return nil, err
	}
	if effectiveness.Valid {
		v := effectiveness.Float64
		d.EffectivenessScore = &v
	}
	if d.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDirectives(rows *sql.Rows) ([]domain.Directive, error) {
	var out []domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
