package crawl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerRegisterCancelRelease(t *testing.T) {
	t.Parallel()

	m := NewManager()

	flag := m.Register("job-1")
	require.NotNil(t, flag)
	require.False(t, flag.Requested())

	got, ok := m.Flag("job-1")
	require.True(t, ok)
	require.Same(t, flag, got)

	require.True(t, m.Cancel("job-1"))
	require.True(t, flag.Requested())

	// Cancelling again is a no-op but still acknowledged.
	require.True(t, m.Cancel("job-1"))

	m.Release("job-1")
	_, ok = m.Flag("job-1")
	require.False(t, ok)
	require.False(t, m.Cancel("job-1"))
}

func TestManagerRegisterIsIdempotentPerJob(t *testing.T) {
	t.Parallel()

	m := NewManager()
	first := m.Register("job-1")
	second := m.Register("job-1")
	require.Same(t, first, second)

	other := m.Register("job-2")
	require.NotSame(t, first, other)

	// Cancelling one job never leaks into another.
	require.True(t, m.Cancel("job-1"))
	require.False(t, other.Requested())
}

func TestManagerConcurrentCancel(t *testing.T) {
	t.Parallel()

	m := NewManager()
	flag := m.Register("job-1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Cancel("job-1")
		}()
	}
	wg.Wait()
	require.True(t, flag.Requested())
}

func TestCancelFlagLatches(t *testing.T) {
	t.Parallel()

	var flag CancelFlag
	require.False(t, flag.Requested())
	flag.Request()
	require.True(t, flag.Requested())
	flag.Request()
	require.True(t, flag.Requested())
}
