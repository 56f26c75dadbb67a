package runner

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// slotBackOff implements backoff.BackOff per §4.7's literal retry formula:
// sleep backoff_base × attempt^exponent (or backoff_base when exponent is
// unset, since backoffExponent then returns 0 and attempt^0 is 1). This replaces cenkalti's
// own multiplicative ExponentialBackOff formula rather than the hand-rolled
// sleep loop a from-scratch retry implementation would use.
type slotBackOff struct {
	base     time.Duration
	exponent float64
	attempt  int
}

func newSlotBackOff(cfg SlotConfig) backoff.BackOff {
	b := &slotBackOff{base: cfg.backoffBase(), exponent: cfg.backoffExponent()}
	if n := cfg.maxRetries(); n >= 0 {
		return backoff.WithMaxRetries(b, uint64(n))
	}
	return b
}

func (b *slotBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(float64(b.base) * math.Pow(float64(b.attempt), b.exponent))
}

func (b *slotBackOff) Reset() { b.attempt = 0 }
