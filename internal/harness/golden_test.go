package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	paths := []string{
		"../../testdata/scenarios/event_cooldown.yaml",
		"../../testdata/scenarios/weekly_schedule.yaml",
		"../../testdata/scenarios/condition_feedback.yaml",
	}

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, "load %s", path)

		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/weekly_schedule.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, scenario.Name, result))
}

func TestTraceSnapshotDeterminism(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "determinism",
		Trace: []TraceEvent{
			{
				Kind:        "delivery",
				Step:        1,
				DirectiveID: "d1",
				ClientID:    "c1",
				TriggeredBy: "event:ev-000001",
				Text:        "Reminder\nhello",
				At:          "2026-03-02T12:00:00Z",
			},
		},
	}

	json1, err := domain.MarshalCanonical(snapshot)
	require.NoError(t, err)
	json2, err := domain.MarshalCanonical(snapshot)
	require.NoError(t, err)
	require.Equal(t, json1, json2)

	require.Contains(t, string(json1), `"scenario_name":"determinism"`)
	require.Contains(t, string(json1), `"triggered_by":"event:ev-000001"`)
}
