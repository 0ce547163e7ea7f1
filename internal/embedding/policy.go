package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Retrying retries ErrUnavailable failures with exponential backoff until
// maxElapsed has passed. Other errors and context cancellation are returned
// immediately.
type Retrying struct {
	Embedder
	maxElapsed time.Duration
	initial    time.Duration
}

// NewRetrying wraps e with a retry policy. A zero maxElapsed returns e unchanged.
func NewRetrying(e Embedder, maxElapsed time.Duration) Embedder {
	if maxElapsed <= 0 {
		return e
	}
	return &Retrying{Embedder: e, maxElapsed: maxElapsed, initial: 500 * time.Millisecond}
}

// Embed calls the wrapped embedder until it succeeds or the policy gives up.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = r.maxElapsed

	var vec []float32
	operation := func() error {
		v, err := r.Embedder.Embed(ctx, text)
		if err == nil {
			vec = v
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vec, nil
}

// RateLimited spaces calls to the wrapped embedder to at most rps per second.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps e with a token bucket. A non-positive rps returns e unchanged.
func NewRateLimited(e Embedder, rps float64) Embedder {
	if rps <= 0 {
		return e
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Embed waits for a token, then embeds.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Embedder.Embed(ctx, text)
}

// Cached memoizes embeddings by exact text in a bounded LRU. Failures are
// not cached. Callers receive copies and may modify them.
type Cached struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps e with an LRU of the given size. A non-positive size
// returns e unchanged.
func NewCached(e Embedder, size int) Embedder {
	if size <= 0 {
		return e
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return e
	}
	return &Cached{Embedder: e, cache: cache}
}

// Embed returns the cached vector for text or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return clone(vec), nil
	}
	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(vec))
	return vec, nil
}

// Len reports the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
