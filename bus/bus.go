// Package bus is the in-process message bus: hierarchical string topics with
// glob subscription ("*" one segment, "**" the remainder), synchronous
// delivery in registration order, and uuid-correlated request/response.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives published messages. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(msg any)

type subscription struct {
	pattern string
	handler Handler
	seq     uint64
}

// Bus routes messages between engines, clients and strategies.
type Bus struct {
	log *zap.Logger

	mu      sync.RWMutex
	subs    []subscription
	nextSeq uint64
	pending map[string]Handler // correlation id -> response handler

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, pending: make(map[string]Handler)}
}

// Subscribe registers handler for every topic matching pattern and returns
// an unsubscribe func.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	b.mu.Lock()
	seq := b.nextSeq
	b.nextSeq++
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler, seq: seq})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s.seq == seq {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}
}

// Publish delivers msg to every matching subscriber in registration order.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	matched := make([]Handler, 0, 4)
	for _, s := range b.subs {
		if TopicMatches(s.pattern, topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()
	b.published.Add(1)

	for _, h := range matched {
		h(msg)
	}
}

// HasSubscribers reports whether any subscription matches topic.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if TopicMatches(s.pattern, topic) {
			return true
		}
	}
	return false
}

// Request publishes msg on topic carrying a fresh correlation id and
// registers handler for the eventual response. Returns the correlation id.
func (b *Bus) Request(topic string, msg any, handler Handler) string {
	correlationID := uuid.NewString()
	b.mu.Lock()
	b.pending[correlationID] = handler
	b.mu.Unlock()
	b.Publish(topic, Correlated{CorrelationID: correlationID, Payload: msg})
	return correlationID
}

// Respond routes a response to the pending request handler. Responses with
// no matching pending request are dropped with a warning.
func (b *Bus) Respond(correlationID string, msg any) {
	b.mu.Lock()
	handler, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
	}
	b.mu.Unlock()

	if !ok {
		b.dropped.Add(1)
		b.log.Warn("bus: response without pending request",
			zap.String("correlation_id", correlationID))
		return
	}
	handler(msg)
}

// PendingRequests returns the count of outstanding correlated requests.
func (b *Bus) PendingRequests() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Stats returns (published, dropped-response) counters.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Correlated wraps a request payload with its correlation id.
type Correlated struct {
	CorrelationID string
	Payload       any
}

// TopicMatches reports whether a dotted topic matches a dotted pattern.
// "*" matches exactly one segment, "**" matches the remainder (including
// nothing).
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	return segmentsMatch(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func segmentsMatch(pat, top []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "**":
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(top); i++ {
				if segmentsMatch(pat[1:], top[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(top) == 0 {
				return false
			}
		default:
			if len(top) == 0 || pat[0] != top[0] {
				return false
			}
		}
		pat = pat[1:]
		top = top[1:]
	}
	return len(top) == 0
}
