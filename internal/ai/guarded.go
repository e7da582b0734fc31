package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig bounds how hard the model is called.
type GuardConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" json:"open_timeout"`
}

// DefaultGuardConfig returns conservative limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerMinute: 60,
		Burst:             5,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
	}
}

// Guarded rate-limits a Service and stops calling it while it keeps failing.
type Guarded struct {
	next    Service
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewGuarded wraps next. A zero RequestsPerMinute disables rate limiting.
func NewGuarded(next Service, cfg GuardConfig) *Guarded {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := max(cfg.Burst, 1)
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "generative-ai",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// An empty reply or a caller cancellation says nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoAnswer) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Guarded{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// GenerateText forwards to the wrapped service.
func (g *Guarded) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.call(ctx, func() (string, error) {
		return g.next.GenerateText(ctx, prompt)
	})
}

// GenerateFromImage forwards to the wrapped service.
func (g *Guarded) GenerateFromImage(ctx context.Context, prompt string, img []byte, mimeType string) (string, error) {
	return g.call(ctx, func() (string, error) {
		return g.next.GenerateFromImage(ctx, prompt, img, mimeType)
	})
}

func (g *Guarded) call(ctx context.Context, fn func() (string, error)) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	out, err := g.breaker.Execute(fn)
	if err != nil {
		return "", err
	}
	return out, nil
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}
