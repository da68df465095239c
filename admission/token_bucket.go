/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket accrues capacity/window tokens per second up to capacity and spends one token per admitted request.
// Accounting is delegated to rate.Limiter, which is always driven by the time passed to decide.
type tokenBucket struct {
	limiter *rate.Limiter
}

func newTokenBucket(capacity int, window time.Duration) *tokenBucket {
	// Limiter starts full, so a fresh key may spend the whole capacity at once.
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(float64(capacity)/window.Seconds()), capacity)}
}

func (tb *tokenBucket) decide(now time.Time) (admit bool, retryAfter time.Duration) {
	if tb.limiter.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - tb.limiter.TokensAt(now)
	if missing <= 0 {
		return false, 0
	}
	return false, durationFromSeconds(missing / float64(tb.limiter.Limit()))
}

// tokens returns the number of available tokens at the given time.
func (tb *tokenBucket) tokens(now time.Time) float64 {
	return tb.limiter.TokensAt(now)
}

func durationFromSeconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
