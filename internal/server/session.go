package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

const sessionQueueSize = 64

// clientSession tracks per-connection state and outbound delivery.
type clientSession struct {
	id       string
	hub      *TopicHub
	conn     net.Conn
	sendCh   chan protocol.Envelope
	done     chan struct{}
	topics   map[string]struct{}
	closeMux sync.Once
	mu       sync.Mutex
}

func newClientSession(hub *TopicHub, conn net.Conn) *clientSession {
	return &clientSession{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		sendCh: make(chan protocol.Envelope, sessionQueueSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
}

func (s *clientSession) send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	select {
	case s.sendCh <- env:
		return nil
	case <-s.done:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *clientSession) writeLoop(ctx context.Context, encoder *protocol.Encoder, writeTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case env := <-s.sendCh:
			if s.conn != nil && writeTimeout > 0 {
				if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return err
				}
			}
			if err := encoder.Encode(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (s *clientSession) subscribe(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return false
	}
	s.hub.Subscribe(topic, s.id, s.sendCh)
	s.topics[topic] = struct{}{}
	return true
}

func (s *clientSession) unsubscribe(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return false
	}
	s.hub.Unsubscribe(topic, s.id)
	delete(s.topics, topic)
	return true
}

func (s *clientSession) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

func (s *clientSession) unsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic := range s.topics {
		s.hub.Unsubscribe(topic, s.id)
		delete(s.topics, topic)
	}
}

func (s *clientSession) remoteAddr() string {
	if s.conn == nil {
		return ""
	}
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// close detaches the session from the hub. sendCh is left open because
// publishers may still hold it; done tells writers to stop.
func (s *clientSession) close() {
	s.closeMux.Do(func() {
		s.unsubscribeAll()
		close(s.done)
	})
}
