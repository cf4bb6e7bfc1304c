package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// intakeQuotaScript counts one intake attempt for a client and decides in the
// same round trip whether it fits the window. Refused attempts still count, so
// a client hammering the form stays blocked until the window expires.
var intakeQuotaScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
local allowed = 0
if current <= tonumber(ARGV[2]) then
  allowed = 1
end
return {allowed, current, ttl}
`)

// IntakeQuota is the outcome of one intake attempt against the limiter.
type IntakeQuota struct {
	Allowed           bool
	Used              int
	Limit             int
	RetryAfterSeconds int
}

// RedisIntakeLimiter caps public signup submissions per client across every
// service replica.
type RedisIntakeLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisIntakeLimiter allows perMinute submissions per client key. A
// non-positive perMinute disables the limit.
func NewRedisIntakeLimiter(client redis.UniversalClient, prefix string, perMinute int) *RedisIntakeLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "signup:rate_limit"
	}
	return &RedisIntakeLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  perMinute,
		window: time.Minute,
	}
}

func (r *RedisIntakeLimiter) key(clientKey string) string {
	return fmt.Sprintf("%s:intake:%s", r.prefix, strings.ToLower(clientKey))
}

// AllowIntake records one submission from clientKey and reports whether it is
// within quota.
func (r *RedisIntakeLimiter) AllowIntake(ctx context.Context, clientKey string) (IntakeQuota, error) {
	clientKey = strings.TrimSpace(clientKey)
	if r == nil || r.client == nil || r.limit <= 0 || clientKey == "" {
		return IntakeQuota{Allowed: true}, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := intakeQuotaScript.Run(ctx, r.client, []string{r.key(clientKey)}, windowMs, r.limit).Result()
	if err != nil {
		return IntakeQuota{}, err
	}
	return parseIntakeQuota(raw, r.limit, windowMs)
}

func parseIntakeQuota(raw interface{}, limit int, windowMs int64) (IntakeQuota, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return IntakeQuota{}, fmt.Errorf("unexpected intake limiter reply: %v", raw)
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return IntakeQuota{}, fmt.Errorf("unexpected intake limiter reply element %d: %T", i, v)
		}
		ints[i] = n
	}

	quota := IntakeQuota{
		Allowed: ints[0] == 1,
		Used:    int(ints[1]),
		Limit:   limit,
	}
	if !quota.Allowed {
		ttlMs := ints[2]
		if ttlMs < 0 {
			ttlMs = windowMs
		}
		quota.RetryAfterSeconds = int(math.Max(1, math.Ceil(float64(ttlMs)/1000.0)))
	}
	return quota, nil
}
