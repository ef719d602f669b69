package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Decision struct {
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Limiter is a redis-backed windowed counter used as the per-camera
// ingest flood guard. The window starts at the first message and
// resets Window after it; atomicity comes from the Lua script.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// CheckCamera records one inbound message for the camera and reports
// whether it is within the configured rate.
func (l *Limiter) CheckCamera(ctx context.Context, cameraID string, cfg LimitConfig) (*Decision, error) {
	key := fmt.Sprintf("ingest:%s", cameraID)

	count, err := incrScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:     cfg.Rate,
		Remaining: remaining,
		// Upper bound; the key may expire sooner if the window is
		// already in progress.
		Reset:      time.Now().Add(cfg.Window),
		RetryAfter: int(cfg.Window.Seconds()),
		Allowed:    count <= cfg.Rate,
	}, nil
}
