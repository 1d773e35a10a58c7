package challenge

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestStoreLookupExpiry(t *testing.T) {
	store := NewStore(testLogger())
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Insert(&State{ID: "c1", ExpiresAt: current.Add(2 * time.Minute)})

	_, ok := store.Lookup("c1")
	assert.True(t, ok)

	_, ok = store.Lookup("missing")
	assert.False(t, ok)

	current = current.Add(3 * time.Minute)
	_, ok = store.Lookup("c1")
	assert.False(t, ok)

	// expired entry was dropped on sight, a remove now fails
	assert.False(t, store.Remove("c1"))
}

func TestStoreSweep(t *testing.T) {
	store := NewStore(testLogger())
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Insert(&State{ID: "old", ExpiresAt: current.Add(1 * time.Minute)})
	store.Insert(&State{ID: "fresh", ExpiresAt: current.Add(10 * time.Minute)})

	current = current.Add(5 * time.Minute)
	assert.Equal(t, 1, store.Sweep())

	_, ok := store.Lookup("fresh")
	assert.True(t, ok)
	_, ok = store.Lookup("old")
	assert.False(t, ok)
}

func TestStoreRemoveIsSingleUse(t *testing.T) {
	store := NewStore(testLogger())
	store.Insert(&State{ID: "c1", ExpiresAt: time.Now().Add(time.Minute)})

	const attempts = 16
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Remove("c1")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}
