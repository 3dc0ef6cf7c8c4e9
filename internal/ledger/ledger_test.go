package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AppendAndRecent(t *testing.T) {
	l := New(10)

	for i := 0; i < 3; i++ {
		l.Append(ActionStart, fmt.Sprintf("svc-%d", i), "")
	}

	entries := l.Recent(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "svc-0", entries[0].Service)
	assert.Equal(t, "svc-2", entries[2].Service)

	// Every entry is stamped.
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestLedger_BoundedEviction(t *testing.T) {
	l := New(5)

	for i := 0; i < 12; i++ {
		l.Append(ActionStop, fmt.Sprintf("svc-%d", i), "")
	}

	assert.Equal(t, 5, l.Len())

	entries := l.Recent(5)
	require.Len(t, entries, 5)

	// Oldest entries were evicted FIFO; the last 5 remain in order.
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("svc-%d", 7+i), e.Service)
	}

	// Asking for more than capacity never exceeds the held count.
	assert.Len(t, l.Recent(100), 5)
}

func TestLedger_Filter(t *testing.T) {
	l := New(100)

	for i := 0; i < 10; i++ {
		l.Append(ActionCrash, "flappy", fmt.Sprintf("crash %d", i))
		l.Append(ActionStart, "steady", "")
	}

	crashes := l.Filter("flappy", 0)
	require.Len(t, crashes, 10)
	assert.Equal(t, "crash 0", crashes[0].Detail)
	assert.Equal(t, "crash 9", crashes[9].Detail)

	recent := l.Filter("flappy", 3)
	require.Len(t, recent, 3)
	assert.Equal(t, "crash 7", recent[0].Detail)

	assert.Empty(t, l.Filter("missing", 0))
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := New(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Append(ActionProxyError, fmt.Sprintf("svc-%d", g), "boom")
			}
		}(g)
	}
	wg.Wait()

	// 800 appends into a 50-slot ring: full but never over capacity.
	assert.Equal(t, 50, l.Len())
	assert.Len(t, l.Recent(0), 50)
}
