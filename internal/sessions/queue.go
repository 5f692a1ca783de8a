// Package sessions serializes asynchronous work by session key.
//
// Each key gets a FIFO lane: at most one task is in flight per key and
// tasks run in enqueue order. Distinct keys run concurrently. A task's
// failure never blocks the next task on the same key. Keys used by the
// runtime: a user ID for primary-agent turns, "agent:<id>" for sub-agent
// tasks.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AgentKey builds the session key that serializes one sub-agent's tasks.
func AgentKey(agentID string) string {
	return fmt.Sprintf("agent:%s", agentID)
}

// Task is a unit of work executed on a key's lane.
type Task func() (interface{}, error)

// Result carries a completed task's outcome.
type Result struct {
	Value interface{}
	Err   error
}

type queuedTask struct {
	run  Task
	done chan Result
}

type lane struct {
	pending []queuedTask
	running bool
}

// Queue is a per-key FIFO task serializer. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	wg     sync.WaitGroup
	closed bool
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Enqueue appends task to the key's lane and returns a channel that
// receives exactly one Result when the task completes. After Shutdown,
// enqueued tasks fail immediately.
func (q *Queue) Enqueue(key string, task Task) <-chan Result {
	done := make(chan Result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- Result{Err: context.Canceled}
		return done
	}

	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.pending = append(l.pending, queuedTask{run: task, done: done})

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.drain(key, l)
	}
	q.mu.Unlock()

	return done
}

// drain runs the lane's tasks in order until the lane is empty, then tears
// the lane down.
func (q *Queue) drain(key string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		next := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		next.done <- runTask(key, next.run)
	}
}

func runTask(key string, task Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session task panicked", "key", key, "panic", r)
			res = Result{Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	v, err := task()
	return Result{Value: v, Err: err}
}

// Len reports the number of pending tasks for a key, including the one in
// flight.
func (q *Queue) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		return 0
	}
	n := len(l.pending)
	if l.running {
		n++
	}
	return n
}

// Shutdown stops accepting tasks and waits for in-flight lanes to drain,
// bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
