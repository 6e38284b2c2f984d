package forge

import (
	"sync"
	"testing"
)

func TestLockTableExclusivePerKey(t *testing.T) {
	table := newLockTable()

	if !table.TryAcquire("a") {
		t.Fatal("first acquire failed")
	}
	if table.TryAcquire("a") {
		t.Fatal("second acquire succeeded while held")
	}
	if !table.TryAcquire("b") {
		t.Fatal("unrelated key blocked")
	}

	table.Release("a")
	if !table.TryAcquire("a") {
		t.Fatal("acquire after release failed")
	}
}

func TestLockTableReleaseUnheldIsNoop(t *testing.T) {
	table := newLockTable()
	table.Release("never-held")
	if table.Held("never-held") {
		t.Fatal("release created a held entry")
	}
}

func TestLockTableConcurrentAcquireSingleWinner(t *testing.T) {
	table := newLockTable()

	const attempts = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.TryAcquire("proj") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d goroutines won the lock, want exactly 1", count)
	}
}
