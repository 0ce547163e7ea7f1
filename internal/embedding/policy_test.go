package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder fails the first `failures` calls with err, then returns vec.
type fakeEmbedder struct {
	calls    atomic.Int32
	failures int32
	err      error
	vec      []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.err
	}
	return clone(f.vec), nil
}

func (f *fakeEmbedder) Dimension() int { return len(f.vec) }
func (f *fakeEmbedder) Model() string  { return "fake" }

func TestRetrying_RecoversFromUnavailable(t *testing.T) {
	fake := &fakeEmbedder{failures: 2, err: ErrUnavailable, vec: []float32{1, 2}}
	r := NewRetrying(fake, 5*time.Second).(*Retrying)
	r.initial = time.Millisecond

	vec, err := r.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, int32(3), fake.calls.Load())
	assert.Equal(t, 2, r.Dimension())
}

func TestRetrying_OtherErrorsArePermanent(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeEmbedder{failures: 5, err: boom, vec: []float32{1}}
	r := NewRetrying(fake, 5*time.Second)

	_, err := r.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestRetrying_ZeroDisables(t *testing.T) {
	fake := &fakeEmbedder{vec: []float32{1}}
	assert.Same(t, Embedder(fake), NewRetrying(fake, 0))
}

func TestRateLimited_HonorsContext(t *testing.T) {
	fake := &fakeEmbedder{vec: []float32{1}}
	rl := NewRateLimited(fake, 1)

	_, err := rl.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rl.Embed(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestCached_ReturnsCopies(t *testing.T) {
	fake := &fakeEmbedder{vec: []float32{1, 2, 3}}
	c := NewCached(fake, 2).(*Cached)

	first, err := c.Embed(context.Background(), "q")
	require.NoError(t, err)
	first[0] = 99

	second, err := c.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, second)
	assert.Equal(t, int32(1), fake.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	fake := &fakeEmbedder{failures: 1, err: ErrUnavailable, vec: []float32{1}}
	c := NewCached(fake, 2)

	_, err := c.Embed(context.Background(), "q")
	require.ErrorIs(t, err, ErrUnavailable)

	vec, err := c.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(2), fake.calls.Load())
}
