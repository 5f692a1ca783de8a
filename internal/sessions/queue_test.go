package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFOPerKey(t *testing.T) {
	q := NewQueue()
	var mu sync.Mutex
	var order []int

	var chans []<-chan Result
	for i := 0; i < 10; i++ {
		i := i
		chans = append(chans, q.Enqueue("k", func() (interface{}, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}

	for i, ch := range chans {
		res := <-ch
		if res.Err != nil {
			t.Fatalf("task %d failed: %v", i, res.Err)
		}
		if res.Value.(int) != i {
			t.Errorf("task %d returned %v", i, res.Value)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("execution order broken: %v", order)
		}
	}
}

func TestFailureDoesNotAbortLane(t *testing.T) {
	q := NewQueue()
	fail := q.Enqueue("k", func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	next := q.Enqueue("k", func() (interface{}, error) {
		return "ok", nil
	})

	if res := <-fail; res.Err == nil {
		t.Error("expected failure")
	}
	if res := <-next; res.Err != nil || res.Value != "ok" {
		t.Errorf("next task after failure: %+v", res)
	}
}

func TestPanicRecovered(t *testing.T) {
	q := NewQueue()
	boom := q.Enqueue("k", func() (interface{}, error) {
		panic("kaboom")
	})
	next := q.Enqueue("k", func() (interface{}, error) {
		return "alive", nil
	})

	if res := <-boom; res.Err == nil {
		t.Error("expected error from panicking task")
	}
	if res := <-next; res.Value != "alive" {
		t.Errorf("lane did not survive panic: %+v", res)
	}
}

func TestDistinctKeysConcurrent(t *testing.T) {
	q := NewQueue()
	release := make(chan struct{})

	slow := q.Enqueue("a", func() (interface{}, error) {
		<-release
		return nil, nil
	})
	fast := q.Enqueue("b", func() (interface{}, error) {
		return "fast", nil
	})

	select {
	case res := <-fast:
		if res.Value != "fast" {
			t.Errorf("fast result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("key b blocked behind key a")
	}

	close(release)
	<-slow
}

func TestSingleInFlightPerKey(t *testing.T) {
	q := NewQueue()
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var chans []<-chan Result
	for i := 0; i < 20; i++ {
		chans = append(chans, q.Enqueue("k", func() (interface{}, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil, nil
		}))
	}
	for _, ch := range chans {
		<-ch
	}

	if maxInFlight != 1 {
		t.Errorf("max in-flight = %d, want 1", maxInFlight)
	}
}

func TestLaneTeardown(t *testing.T) {
	q := NewQueue()
	<-q.Enqueue("k", func() (interface{}, error) { return nil, nil })

	// The drain goroutine removes the lane once empty; allow it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Len("k") == 0 {
			q.mu.Lock()
			_, exists := q.lanes["k"]
			q.mu.Unlock()
			if !exists {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("lane state not torn down after drain")
}

func TestShutdownDrains(t *testing.T) {
	q := NewQueue()
	done := q.Enqueue("k", func() (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if res := <-done; res.Value != "done" {
		t.Errorf("in-flight task lost during shutdown: %+v", res)
	}

	// Post-shutdown enqueues fail fast.
	res := <-q.Enqueue("k", func() (interface{}, error) { return nil, nil })
	if res.Err == nil {
		t.Error("expected error after shutdown")
	}
}
