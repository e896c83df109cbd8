package slack

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Slack allows roughly one message per second per channel with short bursts.
const (
	DefaultRate  = 1.0
	DefaultBurst = 3
)

// pacer holds one token bucket per channel.
type pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newPacer(perSecond float64, burst int) *pacer {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &pacer{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (p *pacer) limiter(channel string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[channel]
	if !ok {
		l = rate.NewLimiter(p.rate, p.burst)
		p.limiters[channel] = l
	}
	return l
}

// wait blocks until channel may send or ctx ends. The lock is not held while waiting.
func (p *pacer) wait(ctx context.Context, channel string) error {
	return p.limiter(channel).Wait(ctx)
}
