package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/metrics"
)

const provider = "upstream"

// Adaptive bounds concurrent upstream calls per model and, when Redis is
// configured, keeps a shared circuit breaker with exponential cooldown. The
// breaker trips after FailureThreshold consecutive failed calls.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	threshold   int
	mu          sync.Mutex
	sem         map[string]chan struct{}
	failures    map[string]int
}

type Options struct {
	RedisURL         string
	MaxInflight      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
}

// New builds a limiter. An empty RedisURL disables the breaker.
func New(ctx context.Context, opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 8
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	a := &Adaptive{
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		threshold:   opts.FailureThreshold,
		sem:         map[string]chan struct{}{},
		failures:    map[string]int{},
	}
	if opts.RedisURL == "" {
		return a, nil
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	c := redis.NewClient(ro)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.rdb = c
	return a, nil
}

// Redis returns the breaker client, nil when disabled.
func (a *Adaptive) Redis() *redis.Client { return a.rdb }

func (a *Adaptive) key(model string) string {
	return fmt.Sprintf("cb:%s:%s", provider, strings.ToLower(model))
}

func (a *Adaptive) slot(model string) chan struct{} {
	key := strings.ToLower(model)
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	return ch
}

// Acquire waits for an in-flight slot for model or until ctx is done.
func (a *Adaptive) Acquire(ctx context.Context, model string) (func(), error) {
	ch := a.slot(model)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsOpen returns true while the breaker cooldown is active.
func (a *Adaptive) IsOpen(ctx context.Context, model string) bool {
	if a.rdb == nil {
		return false
	}
	ts, err := a.rdb.Get(ctx, a.key(model)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// ReportFailure counts a failed call for model and opens the breaker once
// the threshold of consecutive failures is reached.
func (a *Adaptive) ReportFailure(ctx context.Context, model string) {
	n, trip := a.recordFailure(model)
	if !trip {
		log.Ctx(ctx).Debug().Str("model", model).Int("failures", n).Msg("upstream failure recorded")
		return
	}
	a.open(ctx, model, n)
}

// ReportSuccess resets the failure streak and closes the breaker for model.
func (a *Adaptive) ReportSuccess(ctx context.Context, model string) {
	a.mu.Lock()
	delete(a.failures, strings.ToLower(model))
	a.mu.Unlock()

	if a.rdb == nil {
		return
	}
	k := a.key(model)
	n, err := a.rdb.Del(ctx, k, k+":attempts").Result()
	if err != nil || n == 0 {
		return
	}
	metrics.BreakerClosed(model)
	log.Ctx(ctx).Info().Str("model", model).Msg("circuit breaker CLOSED (reset)")
}

// recordFailure bumps the streak for model and reports whether it reached
// the threshold. A tripping call restarts the streak.
func (a *Adaptive) recordFailure(model string) (int, bool) {
	key := strings.ToLower(model)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[key]++
	n := a.failures[key]
	if n < a.threshold {
		return n, false
	}
	delete(a.failures, key)
	return n, true
}

// open sets or extends the cooldown, doubling it per consecutive opening.
func (a *Adaptive) open(ctx context.Context, model string, streak int) {
	if a.rdb == nil {
		return
	}
	k := a.key(model)
	openings, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	if openings < 1 {
		openings = 1
	}
	d := cooldown(a.baseBackoff, a.maxBackoff, openings)
	until := time.Now().Add(d)
	if err := a.rdb.Set(ctx, k, until.Unix(), d).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("model", model).Msg("circuit breaker write failed")
		return
	}
	_ = a.rdb.Expire(ctx, k+":attempts", a.maxBackoff*2).Err()

	metrics.BreakerOpened(model)
	log.Ctx(ctx).Warn().
		Str("model", model).
		Dur("cooldown", d).
		Int("failures", streak).
		Int64("openings", openings).
		Time("retry_at", until).
		Msg("circuit breaker OPENED")
}

// Ping checks the breaker store; nil when Redis is disabled.
func (a *Adaptive) Ping(ctx context.Context) error {
	if a.rdb == nil {
		return nil
	}
	return a.rdb.Ping(ctx).Err()
}

func (a *Adaptive) CloseClient() error {
	if a.rdb == nil {
		return nil
	}
	return a.rdb.Close()
}

// cooldown doubles base per opening, capped at ceiling.
func cooldown(base, ceiling time.Duration, openings int64) time.Duration {
	d := base
	for i := int64(1); i < openings; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
