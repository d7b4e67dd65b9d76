// Package queue implements the work queue with leases (spec.md §4.3): a
// two-list hand-off between pending and in-flight ranges, per-range lease
// keys, and the two progress watermarks. Every operation here is built
// directly on the coordination.Store adapter — there is no other shared
// state.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/chainforge/evm-indexer/internal/coordination"
	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	workKey          = "queue:work"
	processingKey    = "queue:processing"
	lastQueuedKey    = "queue:lastQueued"
	lastProcessedKey = "queue:lastProcessed"
)

func leaseKey(r models.Range) string {
	return fmt.Sprintf("lock:range:%s", r.String())
}

func failCountKey(r models.Range) string {
	return fmt.Sprintf("queue:failcount:%s", r.String())
}

// Queue is the work-distribution queue described in spec.md §4.3.
type Queue struct {
	store    *coordination.Store
	leaseTTL time.Duration
}

// New returns a Queue backed by store, leasing ranges for ttl before they're
// considered abandoned.
func New(store *coordination.Store, ttl time.Duration) *Queue {
	return &Queue{store: store, leaseTTL: ttl}
}

// Seed computes the next contiguous block of ranges up to target and
// appends them to the tail of the pending list, advancing last_queued.
// Safe to call concurrently only from a single Seeder routine; idempotent
// across restarts because last_queued only ever advances (spec.md §4.3).
func (q *Queue) Seed(ctx context.Context, target, minBlock, batchSize uint64) error {
	start := minBlock
	if raw, ok, err := q.store.Get(ctx, lastQueuedKey); err != nil {
		return fmt.Errorf("read last_queued: %w", err)
	} else if ok {
		lastQueued, err := parseUint(raw)
		if err != nil {
			return fmt.Errorf("parse last_queued %q: %w", raw, err)
		}
		start = lastQueued + 1
	}

	if start > target {
		return nil // no-op: already at or past target
	}

	ranges := models.Split(start, target, batchSize)
	if len(ranges) == 0 {
		return nil
	}

	members := make([]string, len(ranges))
	for i, r := range ranges {
		members[i] = r.String()
	}
	if err := q.store.RPushTail(ctx, workKey, members...); err != nil {
		return fmt.Errorf("push ranges to work queue: %w", err)
	}

	if err := q.store.SetWithTTL(ctx, lastQueuedKey, fmt.Sprintf("%d", target), 0); err != nil {
		return fmt.Errorf("advance last_queued: %w", err)
	}
	return nil
}

// Next blocks until a range is available, moves it from pending to
// in-flight, and sets its lease. There is a small race window between the
// move and the lease set: if the caller crashes in between, the Janitor
// will recover the range because its lease key won't exist yet
// (spec.md §4.3).
func (q *Queue) Next(ctx context.Context) (models.Range, error) {
	raw, err := q.store.BRPopLPushHeadToTail(ctx, workKey, processingKey)
	if err != nil {
		return models.Range{}, fmt.Errorf("take next range: %w", err)
	}

	r, err := models.ParseRange(raw)
	if err != nil {
		return models.Range{}, fmt.Errorf("parse dequeued range %q: %w", raw, err)
	}

	if err := q.store.SetWithTTL(ctx, leaseKey(r), "1", q.leaseTTL); err != nil {
		return models.Range{}, fmt.Errorf("set lease for %s: %w", r, err)
	}
	return r, nil
}

// ExtendLease refreshes a range's lease TTL. Called on a fixed cadence by
// the worker heartbeat while it holds the range.
func (q *Queue) ExtendLease(ctx context.Context, r models.Range) error {
	_, err := q.store.Expire(ctx, leaseKey(r), q.leaseTTL)
	if err != nil {
		return fmt.Errorf("extend lease for %s: %w", r, err)
	}
	return nil
}

// Complete removes r from processing, deletes its lease, advances
// last_processed monotonically to max(last_processed, r.To), and clears any
// fail count accumulated against r (spec.md §4.3 plus the failure-count
// extension internal/alerts reads).
func (q *Queue) Complete(ctx context.Context, r models.Range) error {
	if err := q.store.LRemOne(ctx, processingKey, r.String()); err != nil {
		return fmt.Errorf("remove %s from processing: %w", r, err)
	}
	if err := q.store.Del(ctx, leaseKey(r)); err != nil {
		return fmt.Errorf("delete lease for %s: %w", r, err)
	}
	if err := q.advanceLastProcessed(ctx, r.To); err != nil {
		return fmt.Errorf("advance last_processed for %s: %w", r, err)
	}
	if err := q.store.Del(ctx, failCountKey(r)); err != nil {
		return fmt.Errorf("clear fail count for %s: %w", r, err)
	}
	return nil
}

// Fail removes r from processing, deletes its lease, and re-appends it to
// the tail of work so that other ranges aren't head-of-line blocked behind
// a poison range (spec.md §4.3). There is no cap on re-queues (spec.md §9's
// second Open Question); Fail instead returns the range's cumulative fail
// count so a caller like internal/alerts can report on ranges that keep
// cycling, without changing queue semantics.
func (q *Queue) Fail(ctx context.Context, r models.Range) (int64, error) {
	if err := q.store.LRemOne(ctx, processingKey, r.String()); err != nil {
		return 0, fmt.Errorf("remove %s from processing: %w", r, err)
	}
	if err := q.store.Del(ctx, leaseKey(r)); err != nil {
		return 0, fmt.Errorf("delete lease for %s: %w", r, err)
	}
	if err := q.store.RPushTail(ctx, workKey, r.String()); err != nil {
		return 0, fmt.Errorf("re-queue %s: %w", r, err)
	}
	count, err := q.store.Incr(ctx, failCountKey(r))
	if err != nil {
		return 0, fmt.Errorf("increment fail count for %s: %w", r, err)
	}
	return count, nil
}

// Reset wipes every key this Queue owns: both lists and both watermarks.
// It does not touch per-range lease or fail-count keys, which expire or
// get cleared on their own. Intended for the reset-queue operator tool,
// never called from the worker/seeder/janitor path.
func (q *Queue) Reset(ctx context.Context) error {
	for _, key := range []string{workKey, processingKey, lastQueuedKey, lastProcessedKey} {
		if err := q.store.Del(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// Enqueue appends an arbitrary range directly to the tail of work, bypassing
// last_queued bookkeeping entirely. Used for operator-initiated replay of a
// specific range (e.g. via the admin control surface) rather than the
// normal tip-following Seed path; it does not touch the fail count.
func (q *Queue) Enqueue(ctx context.Context, r models.Range) error {
	if err := q.store.RPushTail(ctx, workKey, r.String()); err != nil {
		return fmt.Errorf("enqueue %s: %w", r, err)
	}
	return nil
}

// recoverZombieScript checks a single in-flight member's lease and, if it's
// gone, atomically moves that member from processing back to work in the
// same round trip as the check — no other caller can observe the member
// removed from processing without also seeing it re-queued (spec.md §4.3).
//
// KEYS[1] = lease key
// KEYS[2] = processing list key
// KEYS[3] = work list key
// ARGV[1] = the raw range member string
var recoverZombieScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// RecoverZombies scans the in-flight list for ranges whose lease key no
// longer exists (the holder crashed or stalled) and returns them to work.
// This is the only path by which an un-acknowledged crash gets recovered
// (spec.md §4.3).
func (q *Queue) RecoverZombies(ctx context.Context) (int, error) {
	members, err := q.store.LRangeAll(ctx, processingKey)
	if err != nil {
		return 0, fmt.Errorf("read processing list: %w", err)
	}

	recovered := 0
	for _, raw := range members {
		r, err := models.ParseRange(raw)
		if err != nil {
			continue // malformed entries are left alone; not our problem to clean up silently
		}

		res, err := q.store.Eval(ctx, recoverZombieScript,
			[]string{leaseKey(r), processingKey, workKey}, raw,
		)
		if err != nil {
			return recovered, fmt.Errorf("recover zombie %s: %w", r, err)
		}
		if moved, ok := res.(int64); ok && moved == 1 {
			recovered++
		}
	}
	return recovered, nil
}

// FailCount returns r's cumulative fail count, or 0 if it has never failed
// (or was last completed, which clears the counter).
func (q *Queue) FailCount(ctx context.Context, r models.Range) (int64, error) {
	raw, ok, err := q.store.Get(ctx, failCountKey(r))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var v int64
	_, err = fmt.Sscanf(raw, "%d", &v)
	return v, err
}

// LastProcessed returns the highest block height whose range has been
// durably persisted, or 0 if nothing has completed yet.
func (q *Queue) LastProcessed(ctx context.Context) (uint64, error) {
	raw, ok, err := q.store.Get(ctx, lastProcessedKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return parseUint(raw)
}

// LastQueued returns the highest block height enqueued so far, or 0 if the
// Seeder hasn't run yet.
func (q *Queue) LastQueued(ctx context.Context) (uint64, error) {
	raw, ok, err := q.store.Get(ctx, lastQueuedKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return parseUint(raw)
}

// WorkDepth and ProcessingDepth expose queue sizes for the admin surface.
func (q *Queue) WorkDepth(ctx context.Context) (int, error) {
	members, err := q.store.LRangeAll(ctx, workKey)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (q *Queue) ProcessingDepth(ctx context.Context) (int, error) {
	members, err := q.store.LRangeAll(ctx, processingKey)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// monotonicMaxScript performs the compare-and-set described in spec.md §4.3:
// last_processed := max(last_processed, candidate), evaluated atomically so
// concurrent completions never regress the watermark.
//
// KEYS[1] = watermark key
// ARGV[1] = candidate value
var monotonicMaxScript = redis.NewScript(`
local key = KEYS[1]
local candidate = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key))
if current == nil or candidate > current then
	redis.call('SET', key, candidate)
	return candidate
end
return current
`)

func (q *Queue) advanceLastProcessed(ctx context.Context, candidate uint64) error {
	_, err := q.store.Eval(ctx, monotonicMaxScript, []string{lastProcessedKey}, candidate)
	return err
}

func parseUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
