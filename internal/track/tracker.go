// Package track buffers analytics events and resolves attribution.
package track

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

// Backend is the slice of the persistence collaborator the tracker
// writes through. AppendEvents must be append-only and tolerate
// duplicate dedup keys (insert-or-ignore).
type Backend interface {
	AppendEvents(ctx context.Context, events []experiment.Event) error
	GetAssignment(ctx context.Context, tenantID, testID, visitorID string) (*experiment.Assignment, error)
	GetTest(ctx context.Context, testID string) (*experiment.Test, error)
}

type Options struct {
	// BatchSize triggers a flush when the buffer reaches it. Default 100.
	BatchSize int
	// FlushInterval triggers a flush on a timer regardless of batch
	// fill. Default 5s.
	FlushInterval time.Duration
	// BufferSize bounds the in-memory queue. Submissions beyond it are
	// dropped, never blocked on. Default 4096.
	BufferSize int
	// FlushTimeout bounds each persistence round trip. Default 10s.
	FlushTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 4096
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 10 * time.Second
	}
	return o
}

// BatchResult reports what one flush did with its events.
type BatchResult struct {
	Flushed     int
	Deduped     int
	Quarantined int
	Failed      int
}

// Tracker is a write-ahead buffer in front of the event store. Enqueue
// never blocks on persistence; buffered events are lost on crash, which
// is accepted for analytics data. Flush-on-close is best effort.
type Tracker struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	events   chan experiment.Event
	flushReq chan chan BatchResult
	done     chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Int64

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(backend Backend, opts Options, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	t := &Tracker{
		backend:  backend,
		opts:     opts,
		logger:   logger,
		events:   make(chan experiment.Event, opts.BufferSize),
		flushReq: make(chan chan BatchResult),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// QueueEvent hands an event to the flush loop without blocking. When
// the buffer is full the event is dropped and counted.
func (t *Tracker) QueueEvent(ev experiment.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	select {
	case t.events <- ev:
	default:
		t.dropped.Add(1)
		t.logger.Warn("event buffer full, dropping event",
			"test", ev.TestID, "type", ev.Type)
	}
}

// FlushEvents drains the buffer and persists it synchronously.
func (t *Tracker) FlushEvents() BatchResult {
	reply := make(chan BatchResult, 1)
	select {
	case t.flushReq <- reply:
		return <-reply
	case <-t.done:
		return BatchResult{}
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops the flush loop after a best-effort final flush.
func (t *Tracker) Close() {
	close(t.done)
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	var batch []experiment.Event
	for {
		select {
		case ev := <-t.events:
			batch = append(batch, ev)
			if len(batch) >= t.opts.BatchSize {
				t.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = nil
			}
		case reply := <-t.flushReq:
			batch = append(batch, t.drain()...)
			reply <- t.flush(batch)
			batch = nil
		case <-t.done:
			batch = append(batch, t.drain()...)
			if len(batch) > 0 {
				t.flush(batch)
			}
			return
		}
	}
}

func (t *Tracker) drain() []experiment.Event {
	var out []experiment.Event
	for {
		select {
		case ev := <-t.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// flush deduplicates, attributes and persists one batch.
func (t *Tracker) flush(batch []experiment.Event) BatchResult {
	if len(batch) == 0 {
		return BatchResult{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.FlushTimeout)
	defer cancel()

	var res BatchResult
	out := make([]experiment.Event, 0, len(batch))
	testCache := make(map[string]*experiment.Test)

	for _, ev := range batch {
		if ev.DedupKey != "" && t.alreadySeen(ev.DedupKey) {
			res.Deduped++
			continue
		}
		if ev.Type == experiment.EventConversion || ev.Type == experiment.EventRevenue {
			t.attribute(ctx, &ev, testCache)
			if ev.Quarantined {
				res.Quarantined++
			}
		}
		out = append(out, ev)
	}

	if len(out) == 0 {
		return res
	}
	if err := t.backend.AppendEvents(ctx, out); err != nil {
		// Accepted loss: events are analytics, not financial truth.
		t.logger.Error("event flush failed", "count", len(out), "error", err)
		res.Failed = len(out)
		return res
	}
	res.Flushed = len(out)
	return res
}

func (t *Tracker) alreadySeen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[key]; ok {
		return true
	}
	t.seen[key] = struct{}{}
	return false
}

// attribute checks that a conversion has a matching assignment and
// falls inside the attribution window. Failures quarantine the event:
// it is still written for audit but excluded from statistics. An
// assignment must causally precede any event that references it, so a
// conversion with no assignment is never guessed into a variant.
func (t *Tracker) attribute(ctx context.Context, ev *experiment.Event, testCache map[string]*experiment.Test) {
	assignment, err := t.backend.GetAssignment(ctx, ev.TenantID, ev.TestID, ev.VisitorID)
	if err != nil || assignment == nil {
		mismatch := &experiment.AttributionMismatch{TestID: ev.TestID, VisitorID: ev.VisitorID, Reason: "no assignment"}
		t.logger.Warn("quarantining conversion", "reason", mismatch.Reason, "test", ev.TestID, "visitor", ev.VisitorID)
		ev.Quarantined = true
		return
	}

	// The assignment is the source of truth for the variant.
	ev.VariantID = assignment.VariantID

	test, ok := testCache[ev.TestID]
	if !ok {
		test, err = t.backend.GetTest(ctx, ev.TestID)
		if err != nil {
			test = nil
		}
		testCache[ev.TestID] = test
	}
	if test == nil {
		return
	}

	if !WithinWindow(test, assignment.AssignedAt, ev.OccurredAt) {
		t.logger.Warn("quarantining conversion", "reason", "outside attribution window",
			"test", ev.TestID, "visitor", ev.VisitorID)
		ev.Quarantined = true
	}
}

// WithinWindow reports whether a conversion at conversionAt may be
// credited to an exposure at exposedAt. The default window runs to the
// end of the test; a configured AttributionWindow extends or shortens
// that from the exposure time.
func WithinWindow(t *experiment.Test, exposedAt, conversionAt time.Time) bool {
	if conversionAt.Before(exposedAt) {
		return false
	}
	if t.AttributionWindow > 0 {
		return !conversionAt.After(exposedAt.Add(t.AttributionWindow))
	}
	if !t.EndAt.IsZero() {
		return !conversionAt.After(t.EndAt)
	}
	return true
}
