package fetch

import (
	"context"
	"sync"
	"time"
)

// hostLimiters spaces requests per host. Each host gets a slot schedule:
// a caller reserves the next free slot under the lock, then sleeps until
// its slot arrives. Concurrent callers to the same host queue fairly;
// different hosts never wait on each other.
type hostLimiters struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time
}

func newHostLimiters(interval time.Duration) *hostLimiters {
	return &hostLimiters{
		interval: interval,
		next:     make(map[string]time.Time),
	}
}

// wait blocks until the caller's reserved slot for host arrives, or the
// context is canceled.
func (h *hostLimiters) wait(ctx context.Context, host string, sleep func(context.Context, time.Duration) error) error {
	if h.interval <= 0 {
		return nil
	}

	h.mu.Lock()
	now := time.Now()
	slot := h.next[host]
	if slot.Before(now) {
		slot = now
	}
	h.next[host] = slot.Add(h.interval)
	h.mu.Unlock()

	return sleep(ctx, time.Until(slot))
}
