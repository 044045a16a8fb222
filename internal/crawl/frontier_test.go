package crawl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrontierDrainsDepthBeforeAdvancing(t *testing.T) {
	t.Parallel()

	f := newFrontier(2)
	require.True(t, f.Push(Entry{URL: "a", Depth: 1}))
	require.True(t, f.Push(Entry{URL: "b", Depth: 1}))

	first, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, 1, first.Depth)
	// Discover a depth-2 link while depth 1 still has work.
	require.True(t, f.Push(Entry{URL: "c", Depth: 2}))
	f.Done()

	second, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "b", second.URL)
	f.Done()

	third, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "c", third.URL)
	require.Equal(t, 2, third.Depth)
	require.Equal(t, 2, f.Depth())
	f.Done()

	_, ok = f.Pop()
	require.False(t, ok)
}

func TestFrontierRefusesBeyondMaxDepth(t *testing.T) {
	t.Parallel()

	f := newFrontier(1)
	require.True(t, f.Push(Entry{URL: "a", Depth: 1}))
	require.False(t, f.Push(Entry{URL: "b", Depth: 2}))

	entry, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "a", entry.URL)
	f.Done()

	_, ok = f.Pop()
	require.False(t, ok)
}

func TestFrontierPopWaitsForInflightDiscovery(t *testing.T) {
	t.Parallel()

	f := newFrontier(2)
	require.True(t, f.Push(Entry{URL: "seed", Depth: 1}))

	seed, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "seed", seed.URL)

	got := make(chan Entry, 1)
	go func() {
		// Blocks: depth 1 is empty but the seed is still in flight.
		if e, ok := f.Pop(); ok {
			got <- e
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("pop returned before the in-flight entry finished")
	default:
	}

	require.True(t, f.Push(Entry{URL: "child", Depth: 2}))
	f.Done()

	select {
	case e := <-got:
		require.Equal(t, "child", e.URL)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe the discovered entry")
	}
	f.Done()
}

func TestFrontierCloseUnblocksAllWorkers(t *testing.T) {
	t.Parallel()

	f := newFrontier(3)
	require.True(t, f.Push(Entry{URL: "a", Depth: 1}))
	_, ok := f.Pop()
	require.True(t, ok)

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.Pop()
			require.False(t, ok)
		}()
	}
	f.Close()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not unblock waiting workers")
	}
}

func TestFrontierPushAfterCloseRefused(t *testing.T) {
	t.Parallel()

	f := newFrontier(2)
	f.Close()
	require.False(t, f.Push(Entry{URL: "a", Depth: 1}))
}
