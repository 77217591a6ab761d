package domain

import (
	"time"
)

// ClientStatus is the client lifecycle state.
// Only active clients are eligible for directive firing.
type ClientStatus string

const (
	ClientActive    ClientStatus = "active"
	ClientInactive  ClientStatus = "inactive"
	ClientPending   ClientStatus = "pending"
	ClientTrial     ClientStatus = "trial"
	ClientSuspended ClientStatus = "suspended"
)

// Client is a mentored person whose activity the engine watches.
type Client struct {
	ID       string       `json:"id"`
	MentorID string       `json:"mentor_id"`
	Name     string       `json:"name"`
	Status   ClientStatus `json:"status"`

	// Timezone is an IANA name ("America/Chicago"). Schedule matching and
	// program-day computation happen in this zone.
	Timezone string `json:"timezone"`

	// Program is set when the client belongs to a program cohort.
	Program *ProgramMembership `json:"program,omitempty"`

	// GoalTargets maps metric IDs to the client's configured targets,
	// consulted by goal comparisons.
	GoalTargets map[string]float64 `json:"goal_targets,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the client may be evaluated at all.
func (c *Client) Eligible() bool {
	return c.Status == ClientActive
}

// Location resolves the client's timezone, falling back to UTC when the
// zone name is absent or unknown.
func (c *Client) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProgramMembership anchors a client to a cohort with a personal start date.
// Program-anchored triggers compute their fire day from StartDate, never
// from a shared calendar date.
type ProgramMembership struct {
	CohortID  string    `json:"cohort_id"`
	StartDate time.Time `json:"start_date"`
}

// ProgramDay returns the zero-based elapsed program day at the given instant,
// counted in local calendar days in loc. Using calendar days rather than
// elapsed hours keeps the day boundary stable across DST transitions.
func ProgramDay(start, now time.Time, loc *time.Location) int {
	s := start.In(loc)
	n := now.In(loc)
	sd := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	nd := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(nd.Sub(sd) / (24 * time.Hour))
}

// ClientGroup is a named membership set, optionally a program cohort.
// Archiving a group deactivates its directives (store-level cascade).
type ClientGroup struct {
	ID        string   `json:"id"`
	MentorID  string   `json:"mentor_id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids,omitempty"`
	Archived  bool     `json:"archived"`

	// Program is set when the group is a program cohort.
	Program *ProgramInfo `json:"program,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgramInfo describes a cohort's program shape. Individual members still
// carry their own start dates via ProgramMembership.
type ProgramInfo struct {
	DurationWeeks int       `json:"duration_weeks"`
	StartDate     time.Time `json:"start_date"`
}
