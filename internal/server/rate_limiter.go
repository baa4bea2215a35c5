// Package server implements per-connection message throttling that protects
// the relay from clients flooding the other sessions.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter admits at most burst messages within any window. A drained
// bucket regains one message per window, so a full burst takes burst windows
// to come back.
type rateLimiter struct {
	limiter *rate.Limiter
	burst   int
	window  time.Duration
}

func newRateLimiter(burst int, window time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(window), burst),
		burst:   burst,
		window:  window,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
