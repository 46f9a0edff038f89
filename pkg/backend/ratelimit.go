package backend

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimitBackoff is how long requests pause after a rate limited
// response when the provider gave no hint.
const DefaultRateLimitBackoff = 30 * time.Second

// RateLimited throttles a Generator with a token bucket. A rate limited
// response additionally pauses every caller for a backoff period.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
	backoff time.Duration

	mu      sync.Mutex
	retryAt time.Time
}

// NewRateLimited wraps next with a limit of rps requests per second.
func NewRateLimited(next Generator, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		backoff: DefaultRateLimitBackoff,
	}
}

// Name implements Generator.
func (r *RateLimited) Name() string { return r.next.Name() }

// Generate waits for a token and delegates. Waiting counts against the
// caller's deadline, so a long throttle surfaces as a timeout.
func (r *RateLimited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.wait(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			return "", err
		}
		return "", Classified(ClassTimeout, err)
	}

	out, err := r.next.Generate(ctx, prompt)
	if Classify(err) == ClassRateLimited {
		r.recordRateLimited()
	}
	return out, err
}

func (r *RateLimited) wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}

func (r *RateLimited) recordRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryAt = time.Now().Add(r.backoff)
}
