package gateway

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateGate spaces outbound requests with a token bucket so venue request
// limits are not tripped. Tokens refill continuously at perSecond up to
// burst; Wait blocks until a token frees up or the context ends.
type RateGate struct {
	mu      sync.Mutex
	refill  float64
	cap     float64
	tokens  float64
	updated time.Time
}

func NewRateGate(perSecond float64, burst int) *RateGate {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateGate{
		refill:  perSecond,
		cap:     float64(burst),
		tokens:  float64(burst),
		updated: time.Now(),
	}
}

// take consumes one token if available, otherwise returns how long until
// the bucket next holds a full token.
func (g *RateGate) take() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	g.tokens = math.Min(g.cap, g.tokens+now.Sub(g.updated).Seconds()*g.refill)
	g.updated = now
	if g.tokens >= 1 {
		g.tokens--
		return true, 0
	}
	return false, time.Duration((1 - g.tokens) / g.refill * float64(time.Second))
}

func (g *RateGate) Wait(ctx context.Context) error {
	for {
		ok, wait := g.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
