package portal

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gate is the single scheduling point for all outbound portal traffic. It
// enforces a minimum inter-request interval and a hard ceiling on concurrent
// in-flight requests. Acquire never drops a request; worst case it delays.
// Safe for use by any number of concurrent workers.
//
// The gate also adapts to portal pushback: a 429 halves the request rate
// (down to a quarter of the configured rate) and subsequent successes nudge
// it back up toward the configured rate.
type Gate struct {
	limiter *rate.Limiter
	slots   chan struct{}

	mu       sync.Mutex
	baseRate rate.Limit
	curRate  rate.Limit
}

// NewGate creates a Gate enforcing one request per interval with at most
// maxInFlight concurrent requests.
func NewGate(interval time.Duration, maxInFlight int) *Gate {
	r := rate.Every(interval)
	return &Gate{
		limiter:  rate.NewLimiter(r, 1),
		slots:    make(chan struct{}, maxInFlight),
		baseRate: r,
		curRate:  r,
	}
}

// Acquire blocks until it is safe to issue the next outbound request, then
// returns a release function the caller must invoke when the request's
// response has been fully consumed. The only error condition is context
// cancellation.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "gate: acquire slot")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return nil, eris.Wrap(err, "gate: rate wait")
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.slots })
	}, nil
}

// OnThrottle halves the request rate in response to a 429, bottoming out at
// a quarter of the configured rate.
func (g *Gate) OnThrottle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	newRate := g.curRate / 2
	if newRate < g.baseRate/4 {
		newRate = g.baseRate / 4
	}
	if newRate != g.curRate {
		g.curRate = newRate
		g.limiter.SetLimit(newRate)
		zap.L().Warn("gate: portal throttling detected, reducing request rate",
			zap.Float64("requests_per_sec", float64(newRate)),
		)
	}
}

// OnSuccess nudges the request rate back up by 20% after a successful
// request, capped at the configured rate.
func (g *Gate) OnSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.curRate >= g.baseRate {
		return
	}
	newRate := g.curRate * 1.2
	if newRate > g.baseRate {
		newRate = g.baseRate
	}
	g.curRate = newRate
	g.limiter.SetLimit(newRate)
}

// Rate returns the current request rate, for tests and status reporting.
func (g *Gate) Rate() rate.Limit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.curRate
}
