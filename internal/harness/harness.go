package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/localstore"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/testutil"
)

// Harness plays one scenario against a real queue, processor and monitor
// backed by in-memory stores.
type Harness struct {
	scenario *Scenario
	logger   *slog.Logger

	local  *localstore.Memory
	remote *remote.Memory
	clock  *testutil.DeterministicClock
	ids    *testutil.SequenceGenerator
	temp   func() string
	now    *testutil.FakeTime

	queue    *queue.Store
	proc     *engine.Processor
	monitor  *connectivity.Monitor
	handlers engine.Handlers

	mu     sync.Mutex
	faults []*activeFault
	trace  []TraceEvent
}

type activeFault struct {
	FailStep
	used int
}

// Run executes a scenario and returns the result.
//
// Every run starts from empty in-memory stores with deterministic ids and
// clocks. An error is returned when a step cannot be carried out; failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		local:    localstore.NewMemory(),
		remote:   remote.NewMemory().WithIDs(testutil.NewSequenceGenerator("remote").Generate),
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequenceGenerator("item"),
		temp:     testutil.TempIDs(),
		now:      testutil.NewFakeTime(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	for _, seed := range scenario.Remote {
		h.remote.Put(seed.Kind, seed.ID, document.Document(seed.Doc))
	}
	h.remote.FailWith(h.intercept)

	handlers, err := h.buildHandlers()
	if err != nil {
		return nil, err
	}
	h.handlers = handlers

	if err := h.openQueue(ctx); err != nil {
		return nil, err
	}
	h.queue.SetOnline(ctx, scenario.Online)

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.proc.Wait()
		h.now.Advance(time.Minute)
	}

	result := NewResult()
	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()
	result.Final = h.queue.Snapshot()

	actx := &AssertionContext{Remote: h.remote, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) buildHandlers() (engine.Handlers, error) {
	kinds := h.scenario.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	handlers := engine.CollectionHandlers(h.remote, kinds...)

	resolver := conflict.NewResolver(conflict.DefaultRules()...)
	for _, kind := range h.scenario.Reconcile {
		rh, err := engine.NewReconcilingHandler(kind, h.remote, resolver, h.scenario.Preserve, h.logger)
		if err != nil {
			return nil, err
		}
		handlers[kind] = rh
	}
	return handlers, nil
}

// openQueue (re)loads the queue from the local store and rebuilds the
// components that hold it.
func (h *Harness) openQueue(ctx context.Context) error {
	q, err := queue.Open(ctx, h.local, queue.Options{
		Clock:   h.clock,
		IDs:     h.ids,
		TempIDs: h.temp,
		Logger:  h.logger,
	})
	if err != nil {
		return err
	}
	h.queue = q
	h.proc = engine.New(q, h.handlers, engine.Options{
		RetryDelay: -1,
		Now:        h.now.Now,
		Logger:     h.logger,
	})
	h.monitor = connectivity.NewMonitor(q, h.proc.TriggerSync, nil, h.logger)
	return nil
}

func (h *Harness) execute(ctx context.Context, st Step) error {
	switch {
	case st.Enqueue != nil:
		op, err := queue.ParseOperation(st.Enqueue.Op)
		if err != nil {
			return err
		}
		it, err := h.queue.Enqueue(ctx, queue.Item{
			EntityKind: st.Enqueue.Kind,
			Operation:  op,
			EntityID:   st.Enqueue.EntityID,
			Payload:    document.Document(st.Enqueue.Payload),
		})
		if err != nil {
			return err
		}
		h.record(TraceEvent{
			Type:    EventEnqueue,
			Op:      string(it.Operation),
			Kind:    it.EntityKind,
			ID:      it.EntityID,
			Payload: it.Payload,
		})

	case st.Connectivity != "":
		h.record(TraceEvent{Type: EventConnectivity, Detail: map[string]any{"state": st.Connectivity}})
		switch st.Connectivity {
		case ConnOnline:
			h.monitor.HandleReachability(ctx, true)
		case ConnOffline:
			h.monitor.HandleReachability(ctx, false)
		case ConnForeground:
			h.monitor.HandleForeground(ctx)
		}

	case st.Fail != nil:
		h.mu.Lock()
		h.faults = append(h.faults, &activeFault{FailStep: *st.Fail})
		h.mu.Unlock()
		h.record(TraceEvent{
			Type:   EventFault,
			Op:     st.Fail.Op,
			Kind:   st.Fail.Kind,
			Error:  st.Fail.Error,
			Detail: map[string]any{"times": st.Fail.Times},
		})

	case st.Heal:
		h.mu.Lock()
		h.faults = nil
		h.mu.Unlock()
		h.record(TraceEvent{Type: EventHeal})

	case st.Drain:
		res, ran := h.proc.Drain(ctx)
		h.record(TraceEvent{Type: EventCycle, Detail: map[string]any{
			"ran":       ran,
			"attempted": res.Attempted,
			"succeeded": res.Succeeded,
			"retried":   res.Retried,
			"failed":    res.Quarantined,
		}})

	case st.RetryFailed:
		n := h.queue.RequeueFailed(ctx)
		h.record(TraceEvent{Type: EventRequeue, Detail: map[string]any{"count": n}})

	case st.DiscardFailed:
		n := h.queue.ClearFailed(ctx)
		h.record(TraceEvent{Type: EventDiscard, Detail: map[string]any{"count": n}})

	case st.Restart:
		if err := h.queue.Flush(ctx); err != nil {
			return err
		}
		if err := h.openQueue(ctx); err != nil {
			return err
		}
		pending, failed := h.queue.Counts()
		h.record(TraceEvent{Type: EventRestart, Detail: map[string]any{"pending": pending, "failed": failed}})

	default:
		return errors.New("empty step")
	}
	return nil
}

// intercept is installed as the remote fault hook. It records every call
// and fails those matching an active fault.
func (h *Harness) intercept(c remote.Call) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := TraceEvent{
		Seq:     int64(len(h.trace) + 1),
		Type:    EventCall,
		Op:      c.Op,
		Kind:    c.Kind,
		ID:      c.ID,
		Payload: c.Payload,
	}

	var err error
	for _, f := range h.faults {
		if !f.matches(c) {
			continue
		}
		f.used++
		ev.Error = f.Error
		cause := errors.New("injected fault")
		if f.Error == "permanent" {
			err = remote.NewPermanent(c.Op, cause)
		} else {
			err = remote.NewTransient(c.Op, cause)
		}
		break
	}
	h.trace = append(h.trace, ev)
	return err
}

func (f *activeFault) matches(c remote.Call) bool {
	if f.Times > 0 && f.used >= f.Times {
		return false
	}
	if f.Op != "" && f.Op != c.Op {
		return false
	}
	return f.Kind == "" || f.Kind == c.Kind
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = int64(len(h.trace) + 1)
	h.trace = append(h.trace, ev)
}
