package keylock

import (
	"sync"
	"testing"
)

func TestShardCountRounding(t *testing.T) {
	for _, tc := range []struct {
		in, want int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{16, 16},
		{17, 32},
	} {
		m := New(tc.in)
		if len(m.shards) != tc.want {
			t.Errorf("New(%d): %d shards, want %d", tc.in, len(m.shards), tc.want)
		}
	}
}

func TestSameKeySerializes(t *testing.T) {
	m := New(16)

	const workers = 32
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("shared")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestDistinctKeysDoNotDeadlock(t *testing.T) {
	m := New(16)

	unlockA := m.Lock("ns|scene|a")
	unlockB := m.Lock("ns|scene|b")
	unlockB()
	unlockA()

	// Relocking after unlock must succeed.
	unlock := m.Lock("ns|scene|a")
	unlock()
}
