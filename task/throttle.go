package task

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often progress samples are forwarded. Terminal samples
// bypass it through Force.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows one sample per interval. A zero interval lets everything through.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether a sample may be forwarded now.
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}

// Throttled wraps emit so only throttled samples get through; final ones are
// always forwarded.
func Throttled[S any](t *Throttle, emit func(S)) func(s S, final bool) {
	return func(s S, final bool) {
		if final || t.Allow() {
			emit(s)
		}
	}
}
