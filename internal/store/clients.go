package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/coachflow/internal/domain"
)

// PutClient upserts a client record.
func (s *Store) PutClient(ctx context.Context, c domain.Client) error {
	goalsJSON, err := json.Marshal(c.GoalTargets)
	if err != nil {
		return fmt.Errorf("put client: marshal goal targets: %w", err)
	}

	var cohortID string
	var programStart any
	if c.Program != nil {
		cohortID = c.Program.CohortID
		programStart = encodeTime(c.Program.StartDate)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients
		(id, mentor_id, name, status, timezone, cohort_id, program_start,
		 goal_targets_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mentor_id = excluded.mentor_id,
			name = excluded.name,
			status = excluded.status,
			timezone = excluded.timezone,
			cohort_id = excluded.cohort_id,
			program_start = excluded.program_start,
			goal_targets_json = excluded.goal_targets_json,
			updated_at = excluded.updated_at
	`,
		c.ID, c.MentorID, c.Name, string(c.Status), c.Timezone,
		cohortID, programStart, string(goalsJSON),
		encodeTime(c.CreatedAt), encodeTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put client %s: %w", c.ID, err)
	}
	return nil
}

const clientColumns = `
	id, mentor_id, name, status, timezone, cohort_id, program_start,
	goal_targets_json, created_at, updated_at`

// GetClient reads one client by ID. Returns (nil, nil) when absent.
func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	return c, nil
}

// ListActiveClients returns all active clients for a mentor.
// Suspended/inactive clients are excluded here, before evaluation, so
// evaluation cost scales with the active population only.
func (s *Store) ListActiveClients(ctx context.Context, mentorID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE mentor_id = ? AND status = ? ORDER BY id`,
		mentorID, string(domain.ClientActive))
	if err != nil {
		return nil, fmt.Errorf("list active clients: %w", err)
	}
	defer rows.Close()
	return collectClients(rows)
}

// DeleteClient removes a client record.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete client %s: %w", id, err)
	}
	return nil
}

func scanClient(row rowScanner) (*domain.Client, error) {
	var (
		c            domain.Client
		status       string
		cohortID     string
		programStart sql.NullString
		goalsJSON    string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&c.ID, &c.MentorID, &c.Name, &status, &c.Timezone,
		&cohortID, &programStart, &goalsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ClientStatus(status)
	if cohortID != "" && programStart.Valid {
		start, err := decodeTime(programStart.String)
		if err != nil {
			return nil, err
		}
		c.Program = &domain.ProgramMembership{CohortID: cohortID, StartDate: start}
	}
	if err := json.Unmarshal([]byte(goalsJSON), &c.GoalTargets); err != nil {
		return nil, fmt.Errorf("unmarshal goal targets: %w", err)
	}
	if c.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectClients(rows *sql.Rows) ([]domain.Client, error) {
	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// PutGroup upserts a group and replaces its membership set.
func (s *Store) PutGroup(ctx context.Context, g domain.ClientGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put group: begin tx: %w", err)
	}
	defer tx.Rollback()

	var durationWeeks int
	var programStart any
	if g.Program != nil {
		durationWeeks = g.Program.DurationWeeks
		programStart = encodeTime(g.Program.StartDate)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO client_groups
		(id, mentor_id, name, archived, duration_weeks, program_start, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mentor_id = excluded.mentor_id,
			name = excluded.name,
			archived = excluded.archived,
			duration_weeks = excluded.duration_weeks,
			program_start = excluded.program_start,
			updated_at = excluded.updated_at
	`,
		g.ID, g.MentorID, g.Name, g.Archived, durationWeeks, programStart,
		encodeTime(g.CreatedAt), encodeTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("put group %s: clear members: %w", g.ID, err)
	}
	for _, clientID := range g.MemberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, client_id) VALUES (?, ?)
		`, g.ID, clientID); err != nil {
			return fmt.Errorf("put group %s: add member %s: %w", g.ID, clientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put group %s: commit: %w", g.ID, err)
	}
	return nil
}

// GetGroup reads one group with its membership. Returns (nil, nil) when absent.
func (s *Store) GetGroup(ctx context.Context, id string) (*domain.ClientGroup, error) {
	var (
		g             domain.ClientGroup
		durationWeeks int
		programStart  sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mentor_id, name, archived, duration_weeks, program_start, created_at, updated_at
		FROM client_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.MentorID, &g.Name, &g.Archived, &durationWeeks, &programStart, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}

	if durationWeeks > 0 && programStart.Valid {
		start, err := decodeTime(programStart.String)
		if err != nil {
			return nil, err
		}
		g.Program = &domain.ProgramInfo{DurationWeeks: durationWeeks, StartDate: start}
	}
	if g.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id FROM group_members WHERE group_id = ? ORDER BY client_id`, id)
	if err != nil {
		return nil, fmt.Errorf("get group %s: members: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, err
		}
		g.MemberIDs = append(g.MemberIDs, clientID)
	}
	return &g, rows.Err()
}

// ActiveGroupMembers returns the active clients belonging to a group.
func (s *Store) ActiveGroupMembers(ctx context.Context, groupID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE status = ?
		  AND id IN (SELECT client_id FROM group_members WHERE group_id = ?)
		ORDER BY id
	`, string(domain.ClientActive), groupID)
	if err != nil {
		return nil, fmt.Errorf("active group members %s: %w", groupID, err)
	}
	defer rows.Close()
	return collectClients(rows)
}

// ArchiveGroup marks a group archived and deactivates every directive
// scoped to it, in one transaction. Already-written firing records are
// untouched; new fires stop within one evaluation cycle.
func (s *Store) ArchiveGroup(ctx context.Context, groupID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive group: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE client_groups SET archived = 1 WHERE id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("archive group %s: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive group: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("archive group: group %s not found", groupID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE directives SET is_active = 0
		WHERE scope_kind = ? AND scope_target = ?
	`, string(domain.ScopeGroup), groupID); err != nil {
		return fmt.Errorf("archive group %s: deactivate directives: %w", groupID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive group %s: commit: %w", groupID, err)
	}
	return nil
}
