// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles order submission on the producer side.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// SubmitLimiter gates producers with a token bucket. A zero rate disables
// throttling entirely.
type SubmitLimiter struct {
	limiter *rate.Limiter
}

// NewSubmitLimiter creates a limiter allowing r submits per second with the
// given burst. r <= 0 returns an unthrottled limiter.
func NewSubmitLimiter(r float64, burst int) *SubmitLimiter {
	if r <= 0 {
		return &SubmitLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Wait blocks until a token is available or the context is done.
func (l *SubmitLimiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a submit may proceed right now.
func (l *SubmitLimiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// Enabled reports whether throttling is active.
func (l *SubmitLimiter) Enabled() bool {
	return l.limiter != nil
}
