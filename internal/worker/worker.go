// Package worker implements the per-process worker loop (spec.md §4.5):
// lease a range, fan out per-block fetches under a bounded concurrency
// limit, persist atomically, and acknowledge or fail the lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chainforge/evm-indexer/internal/alerts"
	"github.com/chainforge/evm-indexer/internal/eventbus"
	"github.com/chainforge/evm-indexer/internal/fetcher"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/chainforge/evm-indexer/internal/queue"
	"github.com/chainforge/evm-indexer/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrReorgDetected is returned by Run when the store signals a reorg. The
// worker loop does not attempt to resolve it (out of scope, spec.md §4.6);
// the caller is expected to let the process exit and let the Janitor
// recover the in-flight range once its lease expires.
var ErrReorgDetected = errors.New("reorg detected: worker exiting without acknowledging lease")

// Worker drives the LEASED -> fan-out -> ACK/FAIL state machine for one
// process. Multiple Workers (in this process or others) share the same
// Queue and Store; they never communicate directly (spec.md §5).
type Worker struct {
	ID                string
	Queue             *queue.Queue
	Fetcher           *fetcher.Fetcher
	Store             *store.Store
	MaxConcurrency    int
	HeartbeatInterval time.Duration
	FailSleep         time.Duration

	// Bus, if set, receives "range.completed", "range.failed", and
	// "reorg.detected" events for the admin live feed and internal/alerts.
	// Nil is a valid zero value — publishing is skipped entirely.
	Bus *eventbus.Bus
}

// New returns a Worker with a 30s heartbeat interval and a 2s fail-sleep.
// Both are exported fields and can be changed after construction.
func New(id string, q *queue.Queue, f *fetcher.Fetcher, s *store.Store, maxConcurrency int) *Worker {
	return &Worker{
		ID:                id,
		Queue:             q,
		Fetcher:           f,
		Store:             s,
		MaxConcurrency:    maxConcurrency,
		HeartbeatInterval: 30 * time.Second,
		FailSleep:         2 * time.Second,
	}
}

// Run loops IDLE -> LEASED -> ACK/FAIL until ctx is cancelled or a reorg is
// detected. ctx cancellation is the stop signal (spec.md §4.5: "a stop flag
// checked between iterations") — it unblocks the otherwise-indefinite
// Queue.Next() call as well as any in-flight RPC or store call.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := w.Queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[worker %s] next() failed, retrying: %v", w.ID, err)
			time.Sleep(w.FailSleep)
			continue
		}

		if fatal := w.handleRange(ctx, r); fatal != nil {
			return fatal
		}
	}
}

// handleRange processes one leased range end to end, returning a non-nil
// error only when the caller should stop the whole worker (reorg).
func (w *Worker) handleRange(ctx context.Context, r models.Range) error {
	log.Printf("[worker %s] leased range %s", w.ID, r)

	heartbeatDone := make(chan struct{})
	go w.heartbeat(ctx, r, heartbeatDone)

	result, err := w.processRange(ctx, r)

	close(heartbeatDone)

	if err != nil {
		log.Printf("[worker %s] range %s failed to fetch: %v", w.ID, r, err)
		w.fail(ctx, r)
		time.Sleep(w.FailSleep)
		return nil
	}

	if saveErr := w.Store.Save(ctx, result.blocks, result.txs, result.logs); saveErr != nil {
		if store.IsReorg(saveErr) {
			log.Printf("[worker %s] reorg detected persisting range %s: %v", w.ID, r, saveErr)
			w.publish("reorg.detected", alerts.ReorgDetectedPayload{Range: r.String(), Error: saveErr.Error()})
			return fmt.Errorf("%w: %v", ErrReorgDetected, saveErr)
		}
		log.Printf("[worker %s] persist failed for range %s: %v", w.ID, r, saveErr)
		w.fail(ctx, r)
		time.Sleep(w.FailSleep)
		return nil
	}

	if err := w.Queue.Complete(ctx, r); err != nil {
		log.Printf("[worker %s] failed to ack range %s: %v", w.ID, r, err)
	} else {
		log.Printf("[worker %s] completed range %s", w.ID, r)
		w.publish("range.completed", r.String())
	}
	return nil
}

// fail requeues r via the Queue and, if a Bus is wired, publishes the
// resulting cumulative fail count for internal/alerts to threshold against.
func (w *Worker) fail(ctx context.Context, r models.Range) {
	count, err := w.Queue.Fail(ctx, r)
	if err != nil {
		log.Printf("[worker %s] failed to requeue range %s: %v", w.ID, r, err)
		return
	}
	w.publish("range.failed", alerts.RangeFailedPayload{Range: r.String(), FailCount: count})
}

func (w *Worker) publish(eventType string, data interface{}) {
	if w.Bus == nil {
		return
	}
	w.Bus.Publish(eventbus.Event{Type: eventType, Timestamp: time.Now(), Data: data})
}

type fetchedRange struct {
	blocks []models.Block
	txs    []models.Transaction
	logs   []models.Log
}

// processRange fans out one fetch per height in r under a bounded
// concurrency limit, waiting for all of them; the first failure aborts the
// whole range (spec.md §4.5: "a single block's exhausted retries fails the
// whole range").
func (w *Worker) processRange(ctx context.Context, r models.Range) (fetchedRange, error) {
	count := int(r.To-r.From) + 1
	results := make([]fetcher.Result, count)

	g, gctx := errgroup.WithContext(ctx)
	if w.MaxConcurrency > 0 {
		g.SetLimit(w.MaxConcurrency)
	}

	for height := r.From; height <= r.To; height++ {
		height := height
		g.Go(func() error {
			res, err := w.Fetcher.Fetch(gctx, height)
			if err != nil {
				return err
			}
			results[height-r.From] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fetchedRange{}, err
	}

	out := fetchedRange{
		blocks: make([]models.Block, 0, count),
	}
	for _, res := range results {
		out.blocks = append(out.blocks, res.Block)
		out.txs = append(out.txs, res.Transactions...)
		out.logs = append(out.logs, res.Logs...)
	}
	return out, nil
}

// heartbeat refreshes r's lease on a fixed cadence until stop is closed
// (spec.md §4.3/§4.5: "called on a fixed 30-second cadence by the worker
// while processing").
func (w *Worker) heartbeat(ctx context.Context, r models.Range, stop <-chan struct{}) {
	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Queue.ExtendLease(ctx, r); err != nil {
				log.Printf("[worker %s] failed to extend lease for range %s: %v", w.ID, r, err)
			}
		}
	}
}
