package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/store-loyalty/pkg/config"
)

// IdentityType distinguishes callers with a verified token from everyone else
type IdentityType int

const (
	IdentityAnonymous IdentityType = iota
	IdentityAuthenticated
)

// Rule is the token bucket applied to one endpoint and identity type.
// Limit tokens refill per Window; Burst extra tokens absorb spikes.
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Result describes one Allow decision
type Result struct {
	Allowed      bool
	Remaining    int
	RetryAfter   time.Duration
	Limit        int
	Window       time.Duration
	ResetAfter   time.Duration
	IdentityKey  string
	EndpointKey  string
	IdentityType IdentityType
}

// KEYS[1] bucket, ARGV capacity, refill per second, now (seconds), ttl (ms)
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

local allowed = 0
local retry_after = 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after = (1 - tokens) / rate
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), tostring(retry_after), tostring((capacity - tokens) / rate)}
`

// Limiter is a Redis backed token bucket shared by every replica
type Limiter struct {
	client *redis.Client
	cfg    config.RateLimitConfig
	script *redis.Script
	now    func() time.Time
}

// NewLimiter creates a limiter using client for bucket state
func NewLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client: client,
		cfg:    cfg,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
	}
}

// WithNow replaces the clock, for tests
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// RuleFor resolves the rule for endpoint, applying any configured override
func (l *Limiter) RuleFor(endpoint string, identity IdentityType) Rule {
	rule := Rule{Window: l.cfg.Window()}
	if identity == IdentityAuthenticated {
		rule.Limit, rule.Burst = l.cfg.DefaultLimit, l.cfg.DefaultBurst
	} else {
		rule.Limit, rule.Burst = l.cfg.AnonymousLimit, l.cfg.AnonymousBurst
	}

	if o, ok := l.cfg.EndpointOverrides[endpoint]; ok {
		if identity == IdentityAuthenticated {
			if o.AuthenticatedLimit > 0 {
				rule.Limit = o.AuthenticatedLimit
			}
			if o.AuthenticatedBurst >= 0 {
				rule.Burst = o.AuthenticatedBurst
			}
		} else {
			if o.AnonymousLimit > 0 {
				rule.Limit = o.AnonymousLimit
			}
			if o.AnonymousBurst >= 0 {
				rule.Burst = o.AnonymousBurst
			}
		}
		if o.WindowSeconds > 0 {
			rule.Window = time.Duration(o.WindowSeconds) * time.Second
		}
	}

	if rule.Burst < 0 {
		rule.Burst = 0
	}
	return rule
}

// Allow takes one token from the bucket of identity on endpoint. A disabled limiter
// or a non-positive limit always allows.
func (l *Limiter) Allow(ctx context.Context, endpoint, identity string, rule Rule, identityType IdentityType) (Result, error) {
	result := Result{
		Limit:        rule.Limit,
		Window:       rule.Window,
		IdentityKey:  identity,
		EndpointKey:  endpoint,
		IdentityType: identityType,
	}
	if !l.cfg.Enabled || rule.Limit <= 0 {
		result.Allowed = true
		result.Remaining = max(rule.Limit, 0)
		return result, nil
	}

	window := rule.Window
	if window <= 0 {
		window = l.cfg.Window()
		result.Window = window
	}

	capacity := rule.Limit + rule.Burst
	rate := float64(rule.Limit) / window.Seconds()
	now := float64(l.now().UnixNano()) / float64(time.Second)
	ttl := (2 * window).Milliseconds()

	values, err := l.script.Run(ctx, l.client, []string{l.key(endpoint, identity)},
		capacity, formatFloat(rate), formatFloat(now), ttl).Slice()
	if err != nil {
		return result, fmt.Errorf("rate limit script: %w", err)
	}
	if len(values) != 4 {
		return result, fmt.Errorf("rate limit script: unexpected reply %v", values)
	}

	result.Allowed = toInt(values[0]) == 1
	result.Remaining = toInt(values[1])
	result.RetryAfter = seconds(toFloat(values[2]))
	result.ResetAfter = seconds(toFloat(values[3]))
	return result, nil
}

func (l *Limiter) key(endpoint, identity string) string {
	return fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, endpoint, identity)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 10, 64)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
