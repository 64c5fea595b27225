package version

import (
	"sync"
	"testing"
	"time"
)

func TestNextMonotonic(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()

	if got := s.Snapshot("k"); got != 0 {
		t.Fatalf("fresh key snapshot = %d, want 0", got)
	}
	for i := uint64(1); i <= 5; i++ {
		if got := s.Next("k"); got != i {
			t.Fatalf("Next = %d, want %d", got, i)
		}
	}
	if got := s.Snapshot("k"); got != 5 {
		t.Fatalf("snapshot = %d, want 5", got)
	}
	if got := s.Snapshot("other"); got != 0 {
		t.Fatalf("independent key snapshot = %d, want 0", got)
	}
}

func TestNextConcurrent(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Next("hot")
			}
		}()
	}
	wg.Wait()
	if got := s.Snapshot("hot"); got != workers*perWorker {
		t.Fatalf("snapshot = %d, want %d", got, workers*perWorker)
	}
}

func TestPrune(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()

	s.Next("old")
	time.Sleep(10 * time.Millisecond)
	s.Prune(time.Nanosecond)
	if got := s.Snapshot("old"); got != 0 {
		t.Fatalf("pruned key snapshot = %d, want 0", got)
	}
	// A write after pruning restarts the counter; versions only need to be
	// monotonic within the retention window.
	if got := s.Next("old"); got != 1 {
		t.Fatalf("Next after prune = %d, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewStore(time.Millisecond, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	s.Close()
}
