package barstorage

import (
	"context"

	"golang.org/x/time/rate"

	"barchive/internal/barhandle"
)

// Throttled wraps an Adapter, capping Put's write rate via a token-bucket
// limiter (bytes per second). Get/List/Delete/Mount pass through
// unthrottled.
type Throttled struct {
	Adapter
	limiter *rate.Limiter
}

// NewThrottled wraps adapter with a bandwidth cap of bytesPerSec, burst
// equal to one second's worth of traffic.
func NewThrottled(adapter Adapter, bytesPerSec int) *Throttled {
	return &Throttled{Adapter: adapter, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)}
}

func (t *Throttled) Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error) {
	throttledSrc := &throttledReader{Handle: src, limiter: t.limiter, ctx: ctx}
	return t.Adapter.Put(ctx, name, throttledSrc, progress)
}

// throttledReader wraps a barhandle.Handle, waiting on the rate limiter for
// every byte read before returning it to the caller (the underlying Put
// loop), so uploads never exceed the configured bandwidth cap.
type throttledReader struct {
	barhandle.Handle
	limiter *rate.Limiter
	ctx     context.Context
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if b := t.limiter.Burst(); len(p) > b {
		p = p[:b]
	}
	n, err := t.Handle.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
