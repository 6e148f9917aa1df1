package ratelimit

import (
	"context"
	"fmt"
	"time"

	"booking-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions with their own window defaults
const (
	ActionBooking = "booking"
	ActionSearch  = "search"
	ActionCancel  = "cancel"
)

// Rule is a (window, max attempts) pair for one action type.
type Rule struct {
	Window      time.Duration
	MaxAttempts int
}

// DefaultRules returns the per-action production defaults.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionBooking: {Window: 60 * time.Second, MaxAttempts: 10},
		ActionSearch:  {Window: 60 * time.Second, MaxAttempts: 100},
		ActionCancel:  {Window: 60 * time.Second, MaxAttempts: 20},
	}
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// WindowStore counts attempts in a sliding window. Implemented by
// redisclient.Client.
type WindowStore interface {
	CheckRateWindow(ctx context.Context, key string, window time.Duration, maxAttempts int, member string) (bool, time.Duration, error)
}

// Limiter bounds call frequency per (identifier, action). It is a
// protective layer, not a correctness boundary: when the counting
// store is unreachable the limiter allows the call, trading strict
// enforcement for availability.
type Limiter struct {
	store  WindowStore
	rules  map[string]Rule
	logger *zap.Logger
}

// NewLimiter creates a limiter with the given rules; nil rules means
// DefaultRules.
func NewLimiter(store WindowStore, rules map[string]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{
		store:  store,
		rules:  rules,
		logger: util.GetLogger(),
	}
}

// CheckAndRecord checks the sliding window for (identifier, action)
// and records the attempt when allowed.
func (l *Limiter) CheckAndRecord(ctx context.Context, identifier, action string) Decision {
	rule, ok := l.rules[action]
	if !ok {
		// Unknown actions are not limited.
		return Decision{Allowed: true}
	}

	key := fmt.Sprintf("%s:%s", identifier, action)
	allowed, retryAfter, err := l.store.CheckRateWindow(ctx, key, rule.Window, rule.MaxAttempts, uuid.New().String())
	if err != nil {
		// Fail open: availability over strict enforcement.
		util.RateLimiterErrorsTotal.Inc()
		l.logger.Warn("Rate limiter store error, allowing request",
			zap.String("identifier", identifier),
			zap.String("action", action),
			zap.Error(err))
		return Decision{Allowed: true}
	}

	if !allowed {
		util.RateLimitedTotal.WithLabelValues(action).Inc()
	}
	return Decision{Allowed: allowed, RetryAfter: retryAfter}
}
