// Package connectivity turns reachability and app-lifecycle signals into
// sync triggers.
//
// The monitor keeps the queue's isOnline flag current and calls the drain
// trigger when the device comes back online, or when the app returns to the
// foreground while online. It has no retry or backoff logic of its own;
// the trigger's entry guard makes redundant calls harmless.
package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// EventKind distinguishes connectivity signals.
type EventKind int

const (
	// Reachability reports a network state change.
	Reachability EventKind = iota + 1
	// Foreground reports the app returning to the foreground.
	Foreground
)

func (k EventKind) String() string {
	switch k {
	case Reachability:
		return "reachability"
	case Foreground:
		return "foreground"
	default:
		return "unknown"
	}
}

// Event is a connectivity signal. Online is meaningful for Reachability.
type Event struct {
	Kind   EventKind
	Online bool
}

// State records the last known connectivity. *queue.Store implements it.
type State interface {
	SetOnline(ctx context.Context, online bool) (previous bool)
	IsOnline() bool
}

// TriggerFunc starts a drain cycle and reports whether one started.
type TriggerFunc func(ctx context.Context) bool

// Prober checks whether the remote is reachable. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor routes connectivity events to the queue state and the trigger.
type Monitor struct {
	state   State
	trigger TriggerFunc
	prober  Prober
	logger  *slog.Logger
}

// NewMonitor creates a monitor. prober may be nil, in which case Check and
// HandleForeground rely on the last recorded state.
func NewMonitor(state State, trigger TriggerFunc, prober Prober, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		state:   state,
		trigger: trigger,
		prober:  prober,
		logger:  logger.With("component", "connectivity"),
	}
}

// HandleReachability records the new state. A transition from offline to
// online fires the trigger. Returns whether a cycle started.
func (m *Monitor) HandleReachability(ctx context.Context, online bool) bool {
	prev := m.state.SetOnline(ctx, online)
	if prev == online {
		return false
	}
	m.logger.Info("connectivity changed", "online", online)
	if !online {
		return false
	}
	return m.trigger(ctx)
}

// HandleForeground re-checks reachability and fires the trigger if online,
// whether or not the state changed.
func (m *Monitor) HandleForeground(ctx context.Context) bool {
	online := m.Check(ctx)
	prev := m.state.SetOnline(ctx, online)
	if prev != online {
		m.logger.Info("connectivity changed", "online", online, "source", "foreground")
	}
	if !online {
		return false
	}
	return m.trigger(ctx)
}

// Check probes the remote. A probe error counts as offline. Without a
// prober the last recorded state is returned.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.state.IsOnline()
	}
	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("probe failed, treating as offline", "error", err)
		return false
	}
	return true
}

// Handle dispatches a single event.
func (m *Monitor) Handle(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case Reachability:
		return m.HandleReachability(ctx, ev.Online)
	case Foreground:
		return m.HandleForeground(ctx)
	default:
		m.logger.Warn("ignoring unknown connectivity event", "kind", ev.Kind)
		return false
	}
}

// Run consumes events until ctx is done or the channel closes.
func (m *Monitor) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Handle(ctx, ev)
		}
	}
}

// Poll probes immediately and then every interval, feeding the results in
// as reachability events. While online each tick also fires the trigger, so
// items left pending by a failed attempt, or queued while a cycle was
// running, are picked up without waiting for the next reconnect. Returns
// when ctx is done.
func (m *Monitor) Poll(ctx context.Context, interval time.Duration) error {
	m.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	online := m.Check(ctx)
	if m.HandleReachability(ctx, online) || !online {
		return
	}
	m.trigger(ctx)
}
