package server

import (
	"sync"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

// TopicHub tracks subscriptions and fans envelopes out per topic.
type TopicHub struct {
	mu     sync.RWMutex
	topics map[string]map[string]chan protocol.Envelope
}

// NewTopicHub initializes an empty hub.
func NewTopicHub() *TopicHub {
	return &TopicHub{
		topics: make(map[string]map[string]chan protocol.Envelope),
	}
}

// Subscribe registers a subscriber channel for the provided topic.
func (h *TopicHub) Subscribe(topic string, sessionID string, ch chan protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]chan protocol.Envelope)
	}
	h.topics[topic][sessionID] = ch
}

// Unsubscribe removes the subscriber if present.
func (h *TopicHub) Unsubscribe(topic string, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, sessionID)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers returns the number of sessions on a topic.
func (h *TopicHub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish pushes the envelope to every subscriber of topic. Slow
// subscribers with a full queue miss the event.
func (h *TopicHub) Publish(topic string, env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.topics[topic] {
		select {
		case ch <- env:
		default:
		}
	}
}
