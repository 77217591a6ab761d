package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// ScopedClient is a client resolved into a directive's scope, with the
// computed program day attached for program cohort members.
type ScopedClient struct {
	Client     domain.Client
	ProgramDay int
	HasProgram bool
}

// Resolver decides which clients are in scope for a directive.
// Suspended/inactive clients are excluded here, before evaluation.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the active clients in a directive's scope.
//
// Returns a deleted-target ScopeError when the referenced group or client
// no longer exists (or the group is archived); callers must treat that as
// "deactivate the directive", not as fatal.
func (r *Resolver) Resolve(ctx context.Context, d domain.Directive, now time.Time) ([]ScopedClient, error) {
	switch d.Scope.Kind {
	case domain.ScopeAll:
		clients, err := r.store.ListActiveClients(ctx, d.MentorID)
		if err != nil {
			return nil, fmt.Errorf("resolve all-clients scope: %w", err)
		}
		return r.attachProgramDays(clients, now), nil

	case domain.ScopeGroup:
		g, err := r.store.GetGroup(ctx, d.Scope.GroupID)
		if err != nil {
			return nil, fmt.Errorf("resolve group scope: %w", err)
		}
		if g == nil || g.Archived {
			return nil, &ScopeError{
				Code:        ErrCodeDeletedTarget,
				DirectiveID: d.ID,
				TargetID:    d.Scope.GroupID,
				Message:     "group no longer exists or is archived",
			}
		}
		members, err := r.store.ActiveGroupMembers(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve group scope: %w", err)
		}
		return r.attachProgramDays(members, now), nil

	case domain.ScopeClient:
		c, err := r.store.GetClient(ctx, d.Scope.ClientID)
		if err != nil {
			return nil, fmt.Errorf("resolve client scope: %w", err)
		}
		if c == nil {
			return nil, &ScopeError{
				Code:        ErrCodeDeletedTarget,
				DirectiveID: d.ID,
				TargetID:    d.Scope.ClientID,
				Message:     "client no longer exists",
			}
		}
		if !c.Eligible() {
			return nil, nil
		}
		return r.attachProgramDays([]domain.Client{*c}, now), nil

	default:
		return nil, fmt.Errorf("resolve scope: unknown kind %q", d.Scope.Kind)
	}
}

// InScope checks a single client against a directive's scope.
// Used on the event path and for the fire-time re-check in dispatch.
// Returns (nil, nil) when the client is simply out of scope or ineligible.
func (r *Resolver) InScope(ctx context.Context, d domain.Directive, clientID string, now time.Time) (*ScopedClient, error) {
	scoped, err := r.Resolve(ctx, d, now)
	if err != nil {
		return nil, err
	}
	for i := range scoped {
		if scoped[i].Client.ID == clientID {
			return &scoped[i], nil
		}
	}
	return nil, nil
}

// attachProgramDays computes each program member's elapsed program day in
// the member's own timezone, using local calendar days so DST transitions
// do not shift the day boundary.
func (r *Resolver) attachProgramDays(clients []domain.Client, now time.Time) []ScopedClient {
	out := make([]ScopedClient, 0, len(clients))
	for _, c := range clients {
		sc := ScopedClient{Client: c}
		if c.Program != nil {
			sc.HasProgram = true
			sc.ProgramDay = domain.ProgramDay(c.Program.StartDate, now, c.Location())
		}
		out = append(out, sc)
	}
	return out
}
