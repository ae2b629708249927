package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/queue"
)

// TraceSnapshot is the golden-file form of a scenario run: the trace plus
// the final queue lists.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        queue.State
}

// toCanonicalMap converts the snapshot to plain maps for canonical JSON.
// Volatile fields (enqueuedAt, lastSyncAt) are left out.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":  ev.Seq,
			"type": ev.Type,
		}
		if ev.Op != "" {
			m["op"] = ev.Op
		}
		if ev.Kind != "" {
			m["kind"] = ev.Kind
		}
		if ev.ID != "" {
			m["id"] = ev.ID
		}
		if len(ev.Payload) > 0 {
			m["payload"] = ev.Payload
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if len(ev.Detail) > 0 {
			m["detail"] = ev.Detail
		}
		trace[i] = m
	}

	final := map[string]any{
		"pending": itemsCanonical(s.Final.Pending),
		"failed":  itemsCanonical(s.Final.Failed),
	}
	if s.Final.SyncError != "" {
		final["syncError"] = s.Final.SyncError
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"final":         final,
	}
}

func itemsCanonical(items []queue.Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		m := map[string]any{
			"id":         it.ID,
			"entityKind": it.EntityKind,
			"operation":  string(it.Operation),
			"entityId":   it.EntityID,
			"retryCount": it.RetryCount,
		}
		if it.LastError != "" {
			m["lastError"] = it.LastError
		}
		out[i] = m
	}
	return out
}

// Snapshot renders a result as the canonical JSON stored in golden files.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Final:        result.Final,
	}
	return document.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
