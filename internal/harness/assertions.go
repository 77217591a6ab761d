package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/store"
)

// Assertion checks one outcome after the script completes. Exactly one
// field must be set, mirroring the step shape.
type Assertion struct {
	// Fired asserts the number of fired records for a directive.
	Fired *FiredAssertion `yaml:"fired,omitempty"`

	// NoFiring asserts that a directive never fired.
	NoFiring *NoFiringAssertion `yaml:"no_firing,omitempty"`

	// Score asserts the directive's effectiveness score range.
	Score *ScoreAssertion `yaml:"score,omitempty"`
}

// FiredAssertion asserts an exact fired-record count, optionally scoped
// to one client.
type FiredAssertion struct {
	Directive string `yaml:"directive"`
	Client    string `yaml:"client,omitempty"`
	Count     int    `yaml:"count"`
}

// NoFiringAssertion asserts zero fired records, optionally scoped to one
// client.
type NoFiringAssertion struct {
	Directive string `yaml:"directive"`
	Client    string `yaml:"client,omitempty"`
}

// ScoreAssertion asserts the effectiveness score lies in [Min, Max].
type ScoreAssertion struct {
	Directive string  `yaml:"directive"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
}

func validateAssertion(index int, a *Assertion) error {
	n := 0
	if a.Fired != nil {
		if a.Fired.Directive == "" {
			return fmt.Errorf("assertions[%d].fired: directive is required", index)
		}
		n++
	}
	if a.NoFiring != nil {
		if a.NoFiring.Directive == "" {
			return fmt.Errorf("assertions[%d].no_firing: directive is required", index)
		}
		n++
	}
	if a.Score != nil {
		if a.Score.Directive == "" {
			return fmt.Errorf("assertions[%d].score: directive is required", index)
		}
		if a.Score.Min > a.Score.Max {
			return fmt.Errorf("assertions[%d].score: min %v > max %v", index, a.Score.Min, a.Score.Max)
		}
		n++
	}
	if n != 1 {
		return fmt.Errorf("assertions[%d]: exactly one of fired, no_firing, score must be set", index)
	}
	return nil
}

// AssertionContext carries what assertions need to read final state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Now   time.Time
}

// EvaluateAssertions checks every assertion against the store and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		msg, err := evaluateOne(&a, actx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
			continue
		}
		if msg != "" {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return errs
}

func evaluateOne(a *Assertion, actx *AssertionContext) (string, error) {
	switch {
	case a.Fired != nil:
		got, err := countFired(actx, a.Fired.Directive, a.Fired.Client)
		if err != nil {
			return "", err
		}
		if got != a.Fired.Count {
			return fmt.Sprintf("directive %s fired %d times, want %d",
				a.Fired.Directive, got, a.Fired.Count), nil
		}
		return "", nil

	case a.NoFiring != nil:
		got, err := countFired(actx, a.NoFiring.Directive, a.NoFiring.Client)
		if err != nil {
			return "", err
		}
		if got != 0 {
			return fmt.Sprintf("directive %s fired %d times, want none",
				a.NoFiring.Directive, got), nil
		}
		return "", nil

	case a.Score != nil:
		d, err := actx.Store.GetDirective(actx.Ctx, a.Score.Directive)
		if err != nil {
			return "", err
		}
		if d == nil {
			return fmt.Sprintf("directive %s not found", a.Score.Directive), nil
		}
		if d.EffectivenessScore == nil {
			return fmt.Sprintf("directive %s has no effectiveness score, want [%v, %v]",
				a.Score.Directive, a.Score.Min, a.Score.Max), nil
		}
		got := *d.EffectivenessScore
		if got < a.Score.Min || got > a.Score.Max {
			return fmt.Sprintf("directive %s effectiveness %v outside [%v, %v]",
				a.Score.Directive, got, a.Score.Min, a.Score.Max), nil
		}
		return "", nil

	default:
		return "", fmt.Errorf("empty assertion")
	}
}

func countFired(actx *AssertionContext, directiveID, clientID string) (int, error) {
	recs, err := actx.Store.ListFirings(actx.Ctx, directiveID, 1000)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if !rec.Fired {
			continue
		}
		if clientID != "" && rec.ClientID != clientID {
			continue
		}
		n++
	}
	return n, nil
}
