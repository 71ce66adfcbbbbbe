package crawl

// DefaultBreakerThreshold is the consecutive-failure count that trips a
// source's circuit breaker.
const DefaultBreakerThreshold = 3

// breaker trips after a run of consecutive fetch failures, suspending
// its source for the remainder of the crawl run. Each source's worker
// owns its breaker, so no locking is needed.
type breaker struct {
	threshold   int
	consecutive int
}

func newBreaker(threshold int) *breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &breaker{threshold: threshold}
}

// failure records a fetch failure and reports whether the breaker just
// tripped.
func (b *breaker) failure() bool {
	b.consecutive++
	return b.consecutive == b.threshold
}

// success resets the consecutive-failure run.
func (b *breaker) success() {
	b.consecutive = 0
}

// open reports whether the source is suspended.
func (b *breaker) open() bool {
	return b.consecutive >= b.threshold
}
