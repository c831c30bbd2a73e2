// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the sliding-window rate limiter that gates
// all outbound provider calls.
type RateLimiterConfig struct {
	// Enabled enables rate limiting. When false, Acquire and TryAcquire
	// record the request and return immediately.
	Enabled bool

	// MaxRequestsPerMinute is the maximum requests allowed inside the
	// sliding window. Must be > 0.
	MaxRequestsPerMinute int

	// WindowSeconds is the width of the sliding window. Must be > 0.
	WindowSeconds int

	// BaseDelay is the first back-off delay applied when the window is
	// full. Doubles on each consecutive throttle. Must be > 0.
	BaseDelay time.Duration

	// MaxDelay caps the exponential back-off. Must be >= BaseDelay.
	MaxDelay time.Duration

	// Logger for throttling events.
	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns conservative defaults suitable for
// local providers.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 60,
		WindowSeconds:        60,
		BaseDelay:            500 * time.Millisecond,
		MaxDelay:             30 * time.Second,
		Logger:               zap.NewNop(),
	}
}

// Validate checks the configuration for out-of-range values.
func (c RateLimiterConfig) Validate() error {
	var problems []string
	if c.MaxRequestsPerMinute <= 0 {
		problems = append(problems, "MaxRequestsPerMinute must be > 0")
	}
	if c.WindowSeconds <= 0 {
		problems = append(problems, "WindowSeconds must be > 0")
	}
	if c.BaseDelay <= 0 {
		problems = append(problems, "BaseDelay must be > 0")
	}
	if c.MaxDelay < c.BaseDelay {
		problems = append(problems, "MaxDelay must be >= BaseDelay")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid rate limiter config: %s", joinReasons(problems))
	}
	return nil
}

// RateLimiterStats is a consistent snapshot of limiter counters.
type RateLimiterStats struct {
	TotalRequests        int64
	ThrottledRequests    int64
	WindowCount          int
	Remaining            int
	TotalWaitMs          int64
	AverageWaitMs        int64
	ConsecutiveThrottles int
}

// RateLimiter enforces a sliding-window request budget with exponential
// back-off. All methods are safe under concurrent callers.
type RateLimiter struct {
	mu sync.Mutex

	config RateLimiterConfig

	// Sliding deque of request timestamps inside the window.
	timestamps []time.Time

	totalRequests        int64
	throttledRequests    int64
	totalWait            time.Duration
	consecutiveThrottles int

	// now is replaceable for tests.
	now func() time.Time
}

// NewRateLimiter creates a rate limiter. Invalid configuration is rejected.
func NewRateLimiter(config RateLimiterConfig) (*RateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		timestamps: make([]time.Time, 0, config.MaxRequestsPerMinute),
		now:        time.Now,
	}, nil
}

// TryAcquire attempts to take a permit without waiting.
// Returns true and records the request if the window has room.
func (rl *RateLimiter) TryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.config.Enabled {
		rl.record()
		return true
	}

	rl.prune()
	if len(rl.timestamps) < rl.config.MaxRequestsPerMinute {
		rl.record()
		return true
	}
	return false
}

// Acquire blocks until a permit is available or ctx is cancelled.
// Each consecutive throttle doubles the wait, capped at MaxDelay.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for {
		rl.mu.Lock()

		if !rl.config.Enabled {
			rl.record()
			rl.mu.Unlock()
			return nil
		}

		rl.prune()
		if len(rl.timestamps) < rl.config.MaxRequestsPerMinute {
			rl.consecutiveThrottles = 0
			rl.record()
			rl.mu.Unlock()
			return nil
		}

		rl.consecutiveThrottles++
		rl.throttledRequests++
		delay := backoffDelay(rl.config.BaseDelay, rl.config.MaxDelay, rl.consecutiveThrottles)
		rl.totalWait += delay
		throttles := rl.consecutiveThrottles
		rl.mu.Unlock()

		rl.config.Logger.Debug("rate limit exceeded, backing off",
			zap.Duration("delay", delay),
			zap.Int("consecutive_throttles", throttles))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RecordRequest appends the current instant to the window and increments
// the total-request counter.
func (rl *RateLimiter) RecordRequest() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.record()
}

// Reset clears timestamps and all counters.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.timestamps = rl.timestamps[:0]
	rl.totalRequests = 0
	rl.throttledRequests = 0
	rl.totalWait = 0
	rl.consecutiveThrottles = 0
}

// Stats returns a consistent snapshot of limiter counters.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.prune()
	windowCount := len(rl.timestamps)
	remaining := rl.config.MaxRequestsPerMinute - windowCount
	if remaining < 0 {
		remaining = 0
	}
	var avgWait int64
	if rl.throttledRequests > 0 {
		avgWait = rl.totalWait.Milliseconds() / rl.throttledRequests
	}
	return RateLimiterStats{
		TotalRequests:        rl.totalRequests,
		ThrottledRequests:    rl.throttledRequests,
		WindowCount:          windowCount,
		Remaining:            remaining,
		TotalWaitMs:          rl.totalWait.Milliseconds(),
		AverageWaitMs:        avgWait,
		ConsecutiveThrottles: rl.consecutiveThrottles,
	}
}

// Config returns the current configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}

// UpdateConfig swaps the configuration. Invalid values are rejected and
// the current configuration is kept.
func (rl *RateLimiter) UpdateConfig(config RateLimiterConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if config.Logger == nil {
		config.Logger = rl.config.Logger
	}
	rl.config = config
	return nil
}

// record appends now() and bumps the total counter. Caller holds rl.mu.
func (rl *RateLimiter) record() {
	rl.timestamps = append(rl.timestamps, rl.now())
	rl.totalRequests++
}

// prune drops timestamps older than the window. Caller holds rl.mu.
func (rl *RateLimiter) prune() {
	cutoff := rl.now().Add(-time.Duration(rl.config.WindowSeconds) * time.Second)
	keep := 0
	for keep < len(rl.timestamps) && !rl.timestamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		rl.timestamps = append(rl.timestamps[:0], rl.timestamps[keep:]...)
	}
}

// backoffDelay computes min(base * 2^(n-1), max). The shift is capped so
// large throttle streaks cannot overflow the duration.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := n - 1
	if shift > 30 {
		shift = 30
	}
	delay := base << uint(shift)
	if delay > max || delay < base {
		delay = max
	}
	return delay
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
