// Package resilience provides the retry policy used for backend actions.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"devstack/pkg/logging"
)

// ErrMaxRetriesReached is wrapped around the last error once the retry bound is
// exhausted.
var ErrMaxRetriesReached = errors.New("maximum retries reached")

// BackoffConfig defines the exponential backoff between attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int // Retries after the first attempt
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoffConfig returns two retries starting at 500ms.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MaxRetries:   2,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryMetrics counts what the policy did.
type RetryMetrics struct {
	TotalRetryAttempts uint64
	SuccessfulRetries  uint64
	FailedRetries      uint64
	MaxRetriesObserved int
}

// RetryPolicy retries an operation on retryable errors with exponential backoff.
type RetryPolicy struct {
	name           string
	config         BackoffConfig
	retryable      func(error) bool
	attemptTimeout time.Duration
	detached       bool

	mu      sync.Mutex
	metrics RetryMetrics
	rand    *rand.Rand
}

// Option configures a RetryPolicy.
type Option func(*RetryPolicy)

// WithRetryable sets the classifier deciding which errors are retried. The
// default retries nothing.
func WithRetryable(fn func(error) bool) Option {
	return func(p *RetryPolicy) { p.retryable = fn }
}

// WithAttemptTimeout bounds every single attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(p *RetryPolicy) { p.attemptTimeout = d }
}

// WithDetachedAttempts lets an attempt that has been issued run to completion
// (or to its attempt timeout) even if the parent context is cancelled. No new
// attempt starts after cancellation.
func WithDetachedAttempts() Option {
	return func(p *RetryPolicy) { p.detached = true }
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(name string, config BackoffConfig, opts ...Option) *RetryPolicy {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	p := &RetryPolicy{
		name:      name,
		config:    config,
		retryable: func(error) bool { return false },
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetMetrics returns the current metrics.
func (p *RetryPolicy) GetMetrics() RetryMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// calculateDelay returns the wait before retry number attempt (1-based).
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	base := float64(p.config.InitialDelay) * math.Pow(p.config.Multiplier, float64(attempt-1))
	if p.config.MaxDelay > 0 {
		base = math.Min(base, float64(p.config.MaxDelay))
	}
	if p.config.Jitter {
		p.mu.Lock()
		base *= 0.8 + p.rand.Float64()*0.4
		p.mu.Unlock()
	}
	return time.Duration(base)
}

// Execute runs f until it succeeds, returns a non-retryable error, the retry
// bound is exhausted or ctx is done. It returns the number of attempts made.
func (p *RetryPolicy) Execute(ctx context.Context, f func(ctx context.Context) error) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := p.runAttempt(ctx, f)
		if err == nil {
			if attempt > 0 {
				p.mu.Lock()
				p.metrics.SuccessfulRetries++
				p.mu.Unlock()
				logging.Debug("Retry", "%s succeeded after %d attempts", p.name, attempt+1)
			}
			return attempt + 1, nil
		}

		// A cancelled parent is never retried, even if the attempt error looks
		// transient.
		if ctx.Err() != nil || !p.retryable(err) {
			return attempt + 1, err
		}

		if attempt >= p.config.MaxRetries {
			p.mu.Lock()
			p.metrics.FailedRetries++
			p.mu.Unlock()
			logging.Warn("Retry", "%s failed after %d attempts: %v", p.name, attempt+1, err)
			return attempt + 1, fmt.Errorf("%w (%d attempts): %w", ErrMaxRetriesReached, attempt+1, err)
		}

		p.mu.Lock()
		p.metrics.TotalRetryAttempts++
		if attempt+1 > p.metrics.MaxRetriesObserved {
			p.metrics.MaxRetriesObserved = attempt + 1
		}
		p.mu.Unlock()

		delay := p.calculateDelay(attempt + 1)
		logging.Debug("Retry", "%s attempt %d failed, retrying in %s: %v", p.name, attempt+1, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		}
	}
}

func (p *RetryPolicy) runAttempt(ctx context.Context, f func(ctx context.Context) error) error {
	if p.detached {
		ctx = context.WithoutCancel(ctx)
	}
	if p.attemptTimeout <= 0 {
		return f(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()
	return f(attemptCtx)
}
