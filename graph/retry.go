//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryCondition decides whether an error is worth another attempt.
type RetryCondition interface {
	Match(err error) bool
}

// RetryConditionFunc adapts a function to RetryCondition.
type RetryConditionFunc func(error) bool

// Match calls f(err).
func (f RetryConditionFunc) Match(err error) bool { return f(err) }

// RetryPolicy is the per-node retry configuration. MaxAttempts counts the
// first try, so 3 means one try and up to two retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	RetryOn         []RetryCondition
}

// NextDelay is the wait before the retry following attempt (1 based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))
	if limit := p.MaxInterval; limit > 0 {
		delay = math.Min(delay, float64(limit))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		return 0
	}
	return d
}

// ShouldRetry reports whether any condition matches err. Interrupts and
// cancellations are never retried.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil || IsInterrupt(err) || errors.Is(err, context.Canceled) {
		return false
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, the policy gives up or ctx ends. It returns
// the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == attempts || !p.ShouldRetry(err) {
			return attempt, err
		}
		t := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return attempts, err
}

// RetryOnErrors matches errors.Is against any target.
func RetryOnErrors(targets ...error) RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t != nil && errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// RetryOnPredicate defers matching to match.
func RetryOnPredicate(match func(error) bool) RetryCondition {
	return RetryConditionFunc(match)
}

// TransientCondition matches deadline errors and network timeouts.
func TransientCondition() RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	})
}
