package barjob

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunJoinAll(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Shutdown()

	var count int32
	for i := 0; i < 5; i++ {
		p.Run("job-a", func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
		})
	}
	p.JoinAll("job-a")

	if got := atomic.LoadInt32(&count); got != 5 {
		t.Fatalf("expected 5 completions, got %d", got)
	}
}

func TestPoolJoinAllScopedToSubmitter(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Shutdown()

	block := make(chan struct{})
	var otherDone int32

	p.Run("job-a", func(ctx context.Context) {
		<-block
	})
	p.Run("job-b", func(ctx context.Context) {
		atomic.StoreInt32(&otherDone, 1)
	})

	// job-b's worker should finish even though job-a's is still blocked.
	p.JoinAll("job-b")
	if atomic.LoadInt32(&otherDone) != 1 {
		t.Fatal("expected job-b to complete independently of job-a")
	}
	close(block)
	p.JoinAll("job-a")
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Shutdown()

	p.Run("job-c", func(ctx context.Context) {
		panic("boom")
	})
	p.JoinAll("job-c")

	// The worker must still be usable after recovering a panic.
	done := make(chan struct{})
	p.Run("job-c", func(ctx context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover after panic")
	}
}
