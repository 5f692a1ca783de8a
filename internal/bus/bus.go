// Package bus provides in-process topic pub/sub with bounded history.
//
// Events are delivered synchronously to topic subscribers and wildcard
// subscribers, in emit order per emitter. Each topic keeps a ring buffer of
// recent events for observability; a panicking handler never prevents the
// remaining handlers from running.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Core topics emitted by the runtime.
const (
	TopicTaskQueued         = "task:queued"
	TopicTaskCompleted      = "task:completed"
	TopicTaskFailed         = "task:failed"
	TopicAgentCreated       = "agent:created"
	TopicAgentDismissed     = "agent:dismissed"
	TopicAgentRevived       = "agent:revived"
	TopicMemoryUpdated      = "memory:updated"
	TopicMemoryConsolidated = "memory:consolidated"
	TopicBlackboardProposal = "blackboard:proposal"
	TopicBlackboardResolved = "blackboard:resolved"
)

// DefaultHistoryLimit is the per-topic ring buffer capacity.
const DefaultHistoryLimit = 100

// Event is a stamped occurrence on a topic.
type Event struct {
	Seq       uint64      `json:"seq"`
	Topic     string      `json:"topic"`
	UserID    string      `json:"user_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler receives emitted events.
type Handler func(Event)

// Bus is an in-process event bus. Safe for concurrent use.
type Bus struct {
	mu           sync.Mutex
	seq          uint64
	historyLimit int

	topicSubs map[string]map[int]Handler
	anySubs   map[int]Handler
	nextSubID int

	topicHistory map[string]*ring
	allHistory   *ring
}

// New creates a Bus with the given per-topic history capacity.
// historyLimit <= 0 uses DefaultHistoryLimit.
func New(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Bus{
		historyLimit: historyLimit,
		topicSubs:    make(map[string]map[int]Handler),
		anySubs:      make(map[int]Handler),
		topicHistory: make(map[string]*ring),
		allHistory:   newRing(2 * historyLimit),
	}
}

// Subscribe registers a handler for one topic. The returned function
// removes the subscription.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	if b.topicSubs[topic] == nil {
		b.topicSubs[topic] = make(map[int]Handler)
	}
	b.topicSubs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topicSubs[topic], id)
	}
}

// SubscribeAny registers a wildcard handler invoked for every topic.
func (b *Bus) SubscribeAny(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	b.anySubs[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.anySubs, id)
	}
}

// Emit stamps and stores an event, then synchronously delivers it to topic
// handlers followed by wildcard handlers.
func (b *Bus) Emit(topic, userID string, data interface{}) Event {
	b.mu.Lock()
	b.seq++
	ev := Event{
		Seq:       b.seq,
		Topic:     topic,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}

	hist, ok := b.topicHistory[topic]
	if !ok {
		hist = newRing(b.historyLimit)
		b.topicHistory[topic] = hist
	}
	hist.push(ev)
	b.allHistory.push(ev)

	// Snapshot handlers so delivery happens outside the lock; a handler
	// may subscribe or emit again.
	handlers := make([]Handler, 0, len(b.topicSubs[topic])+len(b.anySubs))
	for _, h := range b.topicSubs[topic] {
		handlers = append(handlers, h)
	}
	for _, h := range b.anySubs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
	return ev
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event handler panicked", "topic", ev.Topic, "seq", ev.Seq, "panic", r)
		}
	}()
	h(ev)
}

// Recent returns up to n most-recent events for a topic, oldest first.
func (b *Bus) Recent(topic string, n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist, ok := b.topicHistory[topic]
	if !ok {
		return nil
	}
	return hist.recent(n)
}

// RecentAll returns the n most-recent events across all topics, newest first.
func (b *Bus) RecentAll(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	evs := b.allHistory.recent(n)
	// recent() is oldest-first; reverse for newest-first.
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	return evs
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf   []Event
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(ev Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) recent(n int) []Event {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]Event, n)
	first := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}
