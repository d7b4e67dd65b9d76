// Package coordination is a thin facade over the shared coordination
// service (Redis): atomic list, sorted-set, and scripted operations. Every
// distributed primitive in internal/queue and the rate limiter in this
// package is built on top of it. The adapter carries no business logic of
// its own — callers decide what a list push or a scripted eval means.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps two Redis connections: a pooled one for ordinary commands and
// a dedicated single-connection one reserved for the blocking take in
// internal/queue. Per spec.md §4.1/§9, the blocking connection must never
// share a pool with non-blocking commands — sharing would let a blocked
// BLMOVE starve unrelated commands queued behind it.
type Store struct {
	pooled     *redis.Client
	blocking   *redis.Client
	opts       *redis.Options
	ownsPooled bool
}

// New connects to the coordination service at addr (a redis:// URL). poolSize
// bounds the shared pooled connection; the blocking connection always uses
// exactly one. Callers running more than one worker must not share this
// Store's blocking connection across them — call NewDedicatedBlocking once
// per worker instead (spec.md §5/§9: one dedicated blocking connection per
// worker is a hard requirement).
func New(addr string, poolSize int) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse coordination url: %w", err)
	}

	pooledOpts := *opts
	if poolSize > 0 {
		pooledOpts.PoolSize = poolSize
	}
	pooled := redis.NewClient(&pooledOpts)
	blocking, err := newBlockingClient(opts)
	if err != nil {
		pooled.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pooled.Ping(ctx).Err(); err != nil {
		pooled.Close()
		blocking.Close()
		return nil, fmt.Errorf("ping coordination store: %w", err)
	}

	return &Store{pooled: pooled, blocking: blocking, opts: opts, ownsPooled: true}, nil
}

// NewFromClients wraps already-constructed clients, primarily for tests
// against an in-memory server (miniredis).
func NewFromClients(pooled, blocking *redis.Client) *Store {
	return &Store{pooled: pooled, blocking: blocking, ownsPooled: true}
}

// NewDedicatedBlocking returns a Store sharing s's pooled connection but
// carrying its own fresh single-connection blocking client. Call this once
// per worker so each worker's Queue.Next blocks on a connection nobody else
// is waiting to acquire (spec.md §5/§9).
func (s *Store) NewDedicatedBlocking() (*Store, error) {
	if s.opts == nil {
		return nil, fmt.Errorf("dedicated blocking connections require a Store built with New")
	}
	blocking, err := newBlockingClient(s.opts)
	if err != nil {
		return nil, err
	}
	return &Store{pooled: s.pooled, blocking: blocking, opts: s.opts, ownsPooled: false}, nil
}

func newBlockingClient(opts *redis.Options) (*redis.Client, error) {
	blockingOpts := *opts
	blockingOpts.PoolSize = 1
	blockingOpts.MinIdleConns = 1
	// The blocking take waits indefinitely on an empty queue; don't let the
	// client's own read timeout race it.
	blockingOpts.ReadTimeout = -1
	return redis.NewClient(&blockingOpts), nil
}

// Close closes this Store's dedicated blocking connection, and the pooled
// connection too if this Store owns it (i.e. it wasn't produced by
// NewDedicatedBlocking, which shares the parent's pooled client).
func (s *Store) Close() error {
	errBlocking := s.blocking.Close()
	if !s.ownsPooled {
		return errBlocking
	}
	if err := s.pooled.Close(); err != nil {
		return err
	}
	return errBlocking
}

// RPushTail appends one or more members to the tail of a list.
func (s *Store) RPushTail(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.pooled.RPush(ctx, key, args...).Err()
}

// BRPopLPushHeadToTail atomically moves the head of src to the tail of dst,
// blocking until an element is available or the context is cancelled. This
// uses the dedicated blocking connection.
func (s *Store) BRPopLPushHeadToTail(ctx context.Context, src, dst string) (string, error) {
	val, err := s.blocking.BLMove(ctx, src, dst, "LEFT", "RIGHT", 0).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// LRemOne removes a single occurrence of value from key.
func (s *Store) LRemOne(ctx context.Context, key, value string) error {
	return s.pooled.LRem(ctx, key, 1, value).Err()
}

// LRangeAll returns every member currently in the list.
func (s *Store) LRangeAll(ctx context.Context, key string) ([]string, error) {
	return s.pooled.LRange(ctx, key, 0, -1).Result()
}

// SetWithTTL sets key to value with an expiring TTL (used for lease keys).
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.pooled.Set(ctx, key, value, ttl).Err()
}

// Expire refreshes a key's TTL (used for lease heartbeats).
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.pooled.Expire(ctx, key, ttl).Result()
}

// Exists reports whether key is currently set.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.pooled.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Del removes a key outright.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.pooled.Del(ctx, key).Err()
}

// Incr atomically increments key by 1, creating it at 0 first if unset, and
// returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.pooled.Incr(ctx, key).Result()
}

// Get returns a string key's value, or ("", false, nil) if unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.pooled.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Eval runs a Lua script atomically against the pooled connection,
// transparently falling back from EVALSHA to EVAL on a cache miss (go-redis
// handles this internally via *redis.Script).
func (s *Store) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	return script.Run(ctx, s.pooled, keys, args...).Result()
}
