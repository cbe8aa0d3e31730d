package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEveryAcceptedJob(t *testing.T) {
	p := New(Config{Workers: 2, Backlog: 8})

	var ran atomic.Int32
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { ran.Add(1) }))
	}
	p.Close()

	assert.Equal(t, int32(6), ran.Load())
	assert.Equal(t, Stats{Accepted: 6}, p.Stats())
}

func TestPool_JobSeesSubmitContext(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	type key struct{}
	got := make(chan any, 1)
	ctx := context.WithValue(context.Background(), key{}, "job-7")
	require.NoError(t, p.Submit(ctx, func(ctx context.Context) { got <- ctx.Value(key{}) }))

	select {
	case v := <-got:
		assert.Equal(t, "job-7", v)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestPool_WorkersBoundConcurrency(t *testing.T) {
	p := New(Config{Workers: 2, Backlog: 8})

	var current, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			n := current.Add(1)
			for old := peak.Load(); n > old && !peak.CompareAndSwap(old, n); old = peak.Load() {
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}))
	}
	p.Close()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_RejectsBeyondWorkersPlusBacklog(t *testing.T) {
	p := New(Config{Workers: 1, Backlog: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { <-release }))

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrFull)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, int64(1), stats.Rejected)

	close(release)
	p.Close()
}

func TestPool_SlotFreedAfterJob(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(done) }))
	<-done

	assert.Eventually(t, func() bool {
		return p.Submit(context.Background(), func(context.Context) {}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestPool_PanicIsReportedAndWorkerSurvives(t *testing.T) {
	var (
		mu    sync.Mutex
		got   any
		stack []byte
	)
	p := New(Config{Workers: 1, Backlog: 1, OnPanic: func(recovered any, s []byte) {
		mu.Lock()
		defer mu.Unlock()
		got, stack = recovered, s
	}})

	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("wedged session") }))
	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { ran.Store(true) }))
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "wedged session", got)
	assert.NotEmpty(t, stack)
	assert.True(t, ran.Load())
	assert.Equal(t, int64(1), p.Stats().Panicked)
}

func TestPool_ClosedRejects(t *testing.T) {
	p := New(Config{Workers: 1})
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrClosed)
}

func TestPool_ZeroConfigHasOneWorker(t *testing.T) {
	p := New(Config{})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrFull)

	close(release)
	p.Close()
}
