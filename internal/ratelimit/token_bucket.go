package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), ts}
`

var (
	errBucketKeyEmpty = errors.New("rate limiter key is empty")
	errBucketRate     = errors.New("rate limiter rate must be positive")
	errBucketBurst    = errors.New("rate limiter burst must be positive")
	errBucketResponse = errors.New("invalid rate limit script response")
)

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter takes one token from the bucket named key.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

// TokenBucket is a continuous-refill bucket kept in a redis hash so every
// API node shares it.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if err := validateBucket(key, rate, burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}

	ttl := defaultBucketTTL(rate, burst)
	res, err := t.script.Run(
		ctx,
		t.client,
		[]string{key},
		rate,
		burst,
		int64(ttl/time.Millisecond),
	).Slice()
	if err != nil {
		return &RateLimitResult{Allowed: false}, err
	}
	if len(res) < 3 {
		return &RateLimitResult{Allowed: false}, errBucketResponse
	}

	allowed := castToInt(res[0]) == 1
	remaining := castToFloat(res[1])

	var retryAfter time.Duration
	if !allowed {
		if needed := 1.0 - remaining; needed > 0 {
			retryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter,
	}, nil
}

// MemoryBucket keeps one x/time/rate limiter per key in process memory.
type MemoryBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{limiters: map[string]*rate.Limiter{}}
}

func (m *MemoryBucket) Allow(_ context.Context, key string, r float64, burst int) (*RateLimitResult, error) {
	if err := validateBucket(key, r, burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}

	m.mu.Lock()
	limiter, ok := m.limiters[key]
	if !ok || limiter.Limit() != rate.Limit(r) || limiter.Burst() != burst {
		limiter = rate.NewLimiter(rate.Limit(r), burst)
		m.limiters[key] = limiter
	}
	m.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return &RateLimitResult{Allowed: false, Limit: burst, RetryAfter: delay}, nil
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     burst,
		Remaining: int(limiter.TokensAt(now)),
	}, nil
}

func validateBucket(key string, rate float64, burst int) error {
	if key == "" {
		return errBucketKeyEmpty
	}
	if rate <= 0 {
		return errBucketRate
	}
	if burst <= 0 {
		return errBucketBurst
	}
	return nil
}

func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func castToInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}

func castToFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
