package rag

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled caps the rate of outbound answer requests. A caller that cannot
// get a slot before its deadline fails as a timeout.
type Throttled struct {
	next    Pipeline
	limiter *rate.Limiter
}

func NewThrottled(next Pipeline, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Name() string { return t.next.Name() }

func (t *Throttled) Ask(ctx context.Context, q Query) (*Answer, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return t.next.Ask(ctx, q)
}
