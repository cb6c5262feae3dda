package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/aisync/topology"
)

func TestBarrierReleasesAllAtArity(t *testing.T) {
	const n = 5
	b := NewBarrier(n)
	var wg sync.WaitGroup
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Wait()
			done <- i
		}(i)
	}
	waitOrTimeout(t, &wg, time.Second)
	close(done)
	count := 0
	for range done {
		count++
	}
	if count != n {
		t.Fatalf("got %d releases, want %d", count, n)
	}
}

func TestBarrierReusableAcrossGenerations(t *testing.T) {
	const n = 3
	b := NewBarrier(n)
	for gen := 0; gen < 3; gen++ {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Wait()
			}()
		}
		waitOrTimeout(t, &wg, time.Second)
	}
}

func TestSoftBarrierRendezvous(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		ring := topology.Build(n)
		s := New(ring)
		var wg sync.WaitGroup
		for r := 0; r < n; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				s.SoftBarrier(r)
			}(r)
		}
		waitOrTimeout(t, &wg, time.Second)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for goroutines")
	}
}
