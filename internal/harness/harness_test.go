package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every checked-in scenario and requires all
// assertions to hold.
func TestScenarios(t *testing.T) {
	paths := []string{
		"../../testdata/scenarios/event_cooldown.yaml",
		"../../testdata/scenarios/weekly_schedule.yaml",
		"../../testdata/scenarios/condition_feedback.yaml",
	}

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, "load %s", path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
			assert.NotEmpty(t, result.Trace)
		})
	}
}

// TestScenarioReplay verifies that running the same scenario twice
// produces identical traces.
func TestScenarioReplay(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/event_cooldown.yaml")
	require.NoError(t, err)

	result1, err := Run(scenario)
	require.NoError(t, err)
	result2, err := Run(scenario)
	require.NoError(t, err)

	require.Equal(t, result1.Trace, result2.Trace)
}

func TestRun_CooldownSuppressesSecondFire(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/event_cooldown.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	// Three check-ins, two deliveries: the second fell inside the window.
	require.Len(t, result.Trace, 2)
	assert.Equal(t, 1, result.Trace[0].Step)
	assert.Equal(t, 5, result.Trace[1].Step)
}

func TestRun_ScheduleFiresInClientTimezone(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/weekly_schedule.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 1)
	// Monday 08:00 in America/New_York is 13:00 UTC in early March.
	assert.Equal(t, "schedule:2026-03-02T13:00:00Z", result.Trace[0].TriggeredBy)
}

func TestRun_FailingAssertionReported(t *testing.T) {
	scenario := &Scenario{
		Name:  "unmatched_event",
		Start: "2026-03-02T12:00:00Z",
		Clients: []ClientSeed{
			{ID: "c1", Mentor: "m1", Timezone: "UTC"},
		},
		Directives: []DirectiveSeed{
			{ID: "d1", Mentor: "m1", Scope: "all", Event: "checkin_logged", Action: "remind", ToClient: true},
		},
		Steps: []Step{
			{Event: &EventStep{Client: "c1", Type: "workout_completed"}},
		},
		Assertions: []Assertion{
			{Fired: &FiredAssertion{Directive: "d1", Count: 1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "fired 0 times, want 1")
	assert.Empty(t, result.Trace)
}

func TestRun_NoFiringAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:  "scoped_out",
		Start: "2026-03-02T12:00:00Z",
		Clients: []ClientSeed{
			{ID: "c1", Mentor: "m1", Timezone: "UTC"},
			{ID: "c2", Mentor: "m1", Timezone: "UTC"},
		},
		Directives: []DirectiveSeed{
			{ID: "d1", Mentor: "m1", Scope: "client:c2", Event: "checkin_logged", Action: "remind", ToClient: true},
		},
		Steps: []Step{
			{Event: &EventStep{Client: "c1", Type: "checkin_logged"}},
		},
		Assertions: []Assertion{
			{NoFiring: &NoFiringAssertion{Directive: "d1"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FeedbackSeedsEffectiveness(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/condition_feedback.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FeedbackOutOfRangeDelivery(t *testing.T) {
	scenario := &Scenario{
		Name:  "bad_feedback",
		Start: "2026-03-02T12:00:00Z",
		Clients: []ClientSeed{
			{ID: "c1", Mentor: "m1", Timezone: "UTC"},
		},
		Directives: []DirectiveSeed{
			{ID: "d1", Mentor: "m1", Scope: "all", Event: "checkin_logged", Action: "remind", ToClient: true},
		},
		Steps: []Step{
			{Feedback: &FeedbackStep{Delivery: 1, Signal: 1}},
		},
		Assertions: []Assertion{
			{NoFiring: &NoFiringAssertion{Directive: "d1"}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references delivery 1")
}
