package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/fieldsync/internal/queue"
)

// DefaultRetryDelay is the pause after each failed item that stays pending.
const DefaultRetryDelay = time.Second

// Options configures a Processor. Zero values select production defaults.
type Options struct {
	// RetryDelay is the pause after a failed item. Defaults to
	// DefaultRetryDelay. Negative disables the pause.
	RetryDelay time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now returns the wall time recorded as lastSyncAt. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Result summarizes one drain cycle.
type Result struct {
	Attempted   int
	Succeeded   int
	Retried     int
	Quarantined int
	// Interrupted is set when the context ended before the snapshot was
	// fully replayed. Unvisited items stay pending.
	Interrupted bool
	Duration    time.Duration
}

// Processor drains the queue against the registered handlers.
//
// Thread-safety: all methods are safe for concurrent use. At most one
// cycle runs at a time; see queue.Store.BeginCycle.
type Processor struct {
	queue      *queue.Store
	handlers   Handlers
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     *slog.Logger

	wg     sync.WaitGroup
	cycles atomic.Int64
}

// New creates a processor. handlers is copied.
func New(q *queue.Store, handlers Handlers, opts Options) *Processor {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hs := make(Handlers, len(handlers))
	for k, h := range handlers {
		hs[k] = h
	}

	return &Processor{
		queue:      q,
		handlers:   hs,
		retryDelay: opts.RetryDelay,
		sleep:      opts.Sleep,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "sync"),
	}
}

// TriggerSync starts a drain cycle in the background.
// Returns false without doing anything if a cycle is already running, the
// device is offline, or nothing is pending.
//
// The cycle runs under ctx; cancelling it stops the cycle between items.
func (p *Processor) TriggerSync(ctx context.Context) bool {
	if !p.queue.BeginCycle(ctx) {
		p.logger.Debug("sync trigger ignored")
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runCycle(ctx)
	}()
	return true
}

// Drain runs a drain cycle synchronously. ran is false when the entry
// guard refused the cycle.
func (p *Processor) Drain(ctx context.Context) (res Result, ran bool) {
	if !p.queue.BeginCycle(ctx) {
		return Result{}, false
	}
	return p.runCycle(ctx), true
}

// Wait blocks until every cycle started by TriggerSync has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Cycles returns the number of cycles that have completed.
func (p *Processor) Cycles() int64 {
	return p.cycles.Load()
}

// runCycle replays the pending snapshot. The caller has already won
// BeginCycle.
func (p *Processor) runCycle(ctx context.Context) Result {
	start := p.now()
	// Outcomes must be recorded even while shutting down.
	persistCtx := context.WithoutCancel(ctx)

	items := p.queue.Snapshot().Pending
	p.logger.Info("sync cycle started", "pending", len(items))

	var res Result
	for i := 0; i < len(items); i++ {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		item := items[i]
		res.Attempted++

		durableID, err := p.apply(ctx, item)
		if err == nil {
			if item.Operation == queue.OpCreate && queue.IsTempID(item.EntityID) &&
				durableID != "" && durableID != item.EntityID {
				p.completeCreate(persistCtx, item, items[i+1:], durableID)
			} else {
				p.queue.Remove(persistCtx, item.ID)
			}
			res.Succeeded++
			p.logger.Debug("item replayed",
				"item", item.ID,
				"kind", item.EntityKind,
				"op", item.Operation,
				"entity", item.EntityID,
			)
			continue
		}

		if ctx.Err() != nil {
			// Shutdown, not the item's fault: leave its count alone.
			res.Attempted--
			res.Interrupted = true
			break
		}

		serr := newReplayError(item, err)
		if item.RetryCount+1 >= queue.MaxRetries {
			exhausted := newExhaustedError(item, serr)
			p.queue.MarkFailed(persistCtx, item.ID, serr.Message)
			p.queue.RecordError(persistCtx, exhausted.Error())
			res.Quarantined++
			p.logger.Warn("item moved to failed list",
				"item", item.ID,
				"kind", item.EntityKind,
				"op", item.Operation,
				"code", exhausted.Code,
				"error", serr.Message,
			)
			continue
		}

		p.queue.IncrementRetry(persistCtx, item.ID, serr.Message)
		p.queue.RecordError(persistCtx, serr.Error())
		res.Retried++
		p.logger.Info("item failed, will retry",
			"item", item.ID,
			"kind", item.EntityKind,
			"op", item.Operation,
			"attempt", item.RetryCount+1,
			"code", serr.Code,
			"error", serr.Message,
		)

		if p.retryDelay > 0 {
			if err := p.sleep(ctx, p.retryDelay); err != nil {
				res.Interrupted = true
				break
			}
		}
	}

	if perr := p.queue.PersistErr(); perr != nil {
		p.logger.Warn("queue not persisted, state held in memory",
			"code", ErrCodePersistence,
			"error", perr,
		)
	}

	if res.Interrupted {
		p.queue.AbortCycle(persistCtx)
	} else {
		p.queue.EndCycle(persistCtx, p.now())
	}
	res.Duration = p.now().Sub(start)
	p.cycles.Add(1)

	p.logger.Info("sync cycle finished",
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"retried", res.Retried,
		"failed", res.Quarantined,
		"interrupted", res.Interrupted,
	)
	return res
}

// apply routes one item to its handler.
func (p *Processor) apply(ctx context.Context, item queue.Item) (string, error) {
	h, ok := p.handlers[item.EntityKind]
	if !ok {
		return "", &SyncError{
			Code:       ErrCodeUnknownKind,
			Message:    "no handler registered for kind " + item.EntityKind,
			ItemID:     item.ID,
			EntityKind: item.EntityKind,
			Operation:  item.Operation,
		}
	}

	switch item.Operation {
	case queue.OpCreate:
		return h.Create(ctx, item.Payload)
	case queue.OpUpdate:
		return "", h.Update(ctx, item.EntityID, item.Payload)
	case queue.OpDelete:
		return "", h.Delete(ctx, item.EntityID)
	default:
		return "", &SyncError{
			Code:       ErrCodePermanent,
			Message:    "unknown operation " + string(item.Operation),
			ItemID:     item.ID,
			EntityKind: item.EntityKind,
			Operation:  item.Operation,
		}
	}
}

// completeCreate removes a replayed create and resolves its temporary id
// to durableID in the store, in one write, and in the rest of the snapshot
// being replayed.
func (p *Processor) completeCreate(ctx context.Context, item queue.Item, rest []queue.Item, durableID string) {
	n, _ := p.queue.CompleteCreate(ctx, item.ID, item.EntityID, durableID)
	mapping := map[string]string{item.EntityID: durableID}
	for j := range rest {
		queue.RewriteItem(&rest[j], mapping)
	}
	p.logger.Debug("temporary id resolved",
		"temp", item.EntityID,
		"durable", durableID,
		"rewritten", n,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
