package capture

import (
	"sync"
	"testing"
)

func TestSerialQueue_OrderAndNesting(t *testing.T) {
	q := newSerialQueue(func(f func()) { f() })

	var got []int
	q.push(func() {
		got = append(got, 1)
		q.push(func() { got = append(got, 3) })
		got = append(got, 2)
	})
	q.push(func() { got = append(got, 4) })
	q.wait()

	want := []int{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSerialQueue_ConcurrentPushRunsOneAtATime(t *testing.T) {
	q := newSerialQueue(func(f func()) { go f() })

	var (
		mu      sync.Mutex
		running int
		peak    int
		done    int
	)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.push(func() {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()

				mu.Lock()
				running--
				done++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	q.wait()

	if done != 50 {
		t.Errorf("done = %d, want 50", done)
	}
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}
