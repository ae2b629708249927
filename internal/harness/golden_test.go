package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_TempIDChain(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/temp_id_chain.yaml")
	require.NoError(t, err)

	// To regenerate:
	//   go test ./internal/harness -run TestRunWithGolden_TempIDChain -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion errors: %v", result.Errors)
}

func TestTraceSnapshot_CanonicalMap(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Seq: 1, Type: EventHeal},
			{Seq: 2, Type: EventCall, Op: "delete", Kind: "tasks", ID: "t1", Error: "permanent"},
		},
	}

	m := snap.toCanonicalMap()
	assert.Equal(t, "s", m["scenario_name"])

	trace := m["trace"].([]any)
	require.Len(t, trace, 2)
	assert.Equal(t, map[string]any{"seq": int64(1), "type": EventHeal}, trace[0])
	assert.Equal(t, map[string]any{
		"seq":   int64(2),
		"type":  EventCall,
		"op":    "delete",
		"kind":  "tasks",
		"id":    "t1",
		"error": "permanent",
	}, trace[1])

	final := m["final"].(map[string]any)
	assert.Equal(t, []any{}, final["pending"])
	assert.NotContains(t, final, "syncError")
}
