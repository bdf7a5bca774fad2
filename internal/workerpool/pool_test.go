package workerpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOUnderSingleWorkerContention(t *testing.T) {
	p := New(1, 0)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestGracefulShutdownDrainsQueue(t *testing.T) {
	p := New(2, 0)

	var mu sync.Mutex
	ran := 0
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}

	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, ran)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(2, 0)
	p.Close()
	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBoundedQueueBackpressure(t *testing.T) {
	p := New(1, 2)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))
	require.NoError(t, p.Submit(func() {}))
	require.NoError(t, p.Submit(func() {}))

	done := make(chan struct{})
	go func() {
		_ = p.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("submit should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}
