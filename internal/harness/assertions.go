package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nRemote calls:\n")
		for _, ev := range e.Trace {
			if ev.Type != EventCall {
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, callLabel(ev, true))
			if ev.Error != "" {
				fmt.Fprintf(&buf, " (%s failure)", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext carries what state assertions need.
type AssertionContext struct {
	Remote remote.Getter
	Ctx    context.Context
}

// EvaluateAssertions runs all assertions and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPendingCount:
		return assertCount(a.Type, len(result.Final.Pending), *a.Count, result.Trace)
	case AssertFailedCount:
		return assertCount(a.Type, len(result.Final.Failed), *a.Count, result.Trace)
	case AssertCallCount:
		return assertCallCount(result.Trace, a)
	case AssertCallOrder:
		return assertCallOrder(result.Trace, a)
	case AssertRemoteDoc:
		return assertRemoteDoc(result, a, actx)
	case AssertQueueItem:
		return assertQueueItem(result, a)
	case AssertSyncError:
		return assertSyncError(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(typ string, got, want int, trace []TraceEvent) error {
	if got == want {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d", want),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    trace,
	}
}

// assertCallCount counts every call that reached the remote, failed or not.
func assertCallCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Type != EventCall {
			continue
		}
		if a.Op != "" && ev.Op != a.Op {
			continue
		}
		if a.Kind != "" && ev.Kind != a.Kind {
			continue
		}
		n++
	}
	if n == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%d %s call(s)", *a.Count, filterLabel(a)),
		Actual:   fmt.Sprintf("%d", n),
		Trace:    trace,
	}
}

// assertCallOrder checks that the expected calls appear in order, allowing
// other calls in between. Entries are "op kind" or "op kind id".
func assertCallOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Calls) {
			break
		}
		if ev.Type != EventCall {
			continue
		}
		want := a.Calls[next]
		if want == callLabel(ev, false) || want == callLabel(ev, true) {
			next++
		}
	}
	if next == len(a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallOrder,
		Expected: fmt.Sprintf("calls in order: %v", a.Calls),
		Actual:   fmt.Sprintf("no match for %q after the first %d", a.Calls[next], next),
		Trace:    trace,
	}
}

func assertRemoteDoc(result *Result, a Assertion, actx *AssertionContext) error {
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := actx.Remote.Get(ctx, a.Kind, a.ID)
	if a.Absent {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return &AssertionError{
			Type:     AssertRemoteDoc,
			Expected: fmt.Sprintf("%s/%s absent", a.Kind, a.ID),
			Actual:   fmt.Sprintf("%v (err=%v)", doc, err),
			Trace:    result.Trace,
		}
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertRemoteDoc,
			Expected: fmt.Sprintf("%s/%s with %v", a.Kind, a.ID, a.Expect),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	if field, ok := matchFields(doc, a.Expect); !ok {
		return &AssertionError{
			Type:     AssertRemoteDoc,
			Expected: fmt.Sprintf("%s/%s field %q = %v", a.Kind, a.ID, field, a.Expect[field]),
			Actual:   fmt.Sprintf("%v", doc[field]),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertQueueItem(result *Result, a Assertion) error {
	list := result.Final.Pending
	if a.List == "failed" {
		list = result.Final.Failed
	}
	if a.Index < 0 || a.Index >= len(list) {
		return &AssertionError{
			Type:     AssertQueueItem,
			Expected: fmt.Sprintf("%s[%d]", a.List, a.Index),
			Actual:   fmt.Sprintf("%s has %d item(s)", a.List, len(list)),
		}
	}
	fields, err := itemFields(list[a.Index])
	if err != nil {
		return err
	}
	if field, ok := matchFields(fields, a.Expect); !ok {
		return &AssertionError{
			Type:     AssertQueueItem,
			Expected: fmt.Sprintf("%s[%d].%s = %v", a.List, a.Index, field, a.Expect[field]),
			Actual:   fmt.Sprintf("%v", fields[field]),
		}
	}
	return nil
}

func assertSyncError(result *Result, a Assertion) error {
	got := result.Final.SyncError
	if a.Contains == "" && got == "" {
		return nil
	}
	if a.Contains != "" && strings.Contains(got, a.Contains) {
		return nil
	}
	want := "no sync error"
	if a.Contains != "" {
		want = fmt.Sprintf("sync error containing %q", a.Contains)
	}
	return &AssertionError{Type: AssertSyncError, Expected: want, Actual: fmt.Sprintf("%q", got)}
}

// matchFields checks that every expected field is present in got with an
// equal value. It returns the first mismatching field.
func matchFields(got map[string]any, expected map[string]any) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := got[k]
		if !ok || !document.Equal(document.Document{"v": v}, document.Document{"v": expected[k]}) {
			return k, false
		}
	}
	return "", true
}

// itemFields exposes a queue item under its persisted JSON field names.
func itemFields(it queue.Item) (map[string]any, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func callLabel(ev TraceEvent, withID bool) string {
	if withID && ev.ID != "" {
		return fmt.Sprintf("%s %s %s", ev.Op, ev.Kind, ev.ID)
	}
	return fmt.Sprintf("%s %s", ev.Op, ev.Kind)
}

func filterLabel(a Assertion) string {
	parts := []string{}
	if a.Op != "" {
		parts = append(parts, a.Op)
	}
	if a.Kind != "" {
		parts = append(parts, a.Kind)
	}
	if len(parts) == 0 {
		return "remote"
	}
	return strings.Join(parts, " ")
}
