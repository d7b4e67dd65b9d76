package coordination

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the strict sliding-window log algorithm
// (spec.md §4.2): evict entries older than the window, count what remains,
// and admit atomically iff under the limit. Evaluated as a single script so
// no caller can observe a count between eviction and admission — there is
// no boundary-burst the way a fixed-window counter would allow. The window
// is measured against the coordinator's own clock (redis.call('TIME')),
// never the caller's, so concurrent callers on different machines never
// disagree about "now" (spec.md §4.2).
//
// KEYS[1] = sorted set key
// ARGV[1] = window (ms)
// ARGV[2] = limit
// ARGV[3] = freshly generated unique member id
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local member = ARGV[3]

local t = redis.call('TIME')
local now = math.floor(tonumber(t[1]) * 1000 + tonumber(t[2]) / 1000)

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return 1
end
return 0
`)

// RateLimiter enforces a global admission budget shared across every worker,
// evaluated atomically on the coordination store (spec.md §4.2).
type RateLimiter struct {
	store  *Store
	key    string
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter admitting at most limit calls per window,
// tracked under key (e.g. "ratelimit:global").
func NewRateLimiter(store *Store, key string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, key: key, limit: limit, window: window}
}

// TryAcquire evaluates the sliding window script once and reports whether
// the call was admitted. It never blocks or sleeps; callers that want the
// retry-with-jitter behavior should use Acquire instead.
func (l *RateLimiter) TryAcquire(ctx context.Context) (bool, error) {
	member := uuid.NewString()

	res, err := l.store.Eval(ctx, slidingWindowScript,
		[]string{l.key},
		l.window.Milliseconds(), l.limit, member,
	)
	if err != nil {
		return false, fmt.Errorf("evaluate rate limit script: %w", err)
	}

	admitted, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	return admitted == 1, nil
}

// Acquire blocks (honoring ctx) until a token is admitted. Rejected callers
// sleep a randomized 50-250ms interval before retrying — short enough to
// stay responsive, randomized enough to desynchronize a thundering herd of
// simultaneously-rejected callers. There is no retry cap: the rate limiter
// is flow control, not a failure source.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		wait := time.Duration(50+rand.Intn(201)) * time.Millisecond
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
