package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashBoard/internal/config"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

// Session manages client-side socket interactions with the board server.
type Session struct {
	cfg       config.ClientConfig
	conn      net.Conn
	encoder   *protocol.Encoder
	decoder   *protocol.Decoder
	cancelFn  context.CancelFunc
	messages  chan protocol.Envelope
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession initializes a session with configuration.
func NewSession(cfg config.ClientConfig) *Session {
	return &Session{cfg: cfg, messages: make(chan protocol.Envelope, 64)}
}

// Connect dials the server and prepares framed JSON encoders/decoders.
func (s *Session) Connect(ctx context.Context) error {
	if s.cfg.ServerAddr == "" {
		return net.ErrClosed
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.ServerAddr)
	if err != nil {
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	s.encoder = protocol.NewEncoder(conn)
	s.decoder = protocol.NewDecoder(conn, 0)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel
	go s.readLoop(ctx)
}

// Messages streams envelopes received from the server. The channel is
// closed when the connection ends.
func (s *Session) Messages() <-chan protocol.Envelope {
	return s.messages
}

// Close terminates the session.
func (s *Session) Close() error {
	if s.cancelFn != nil {
		s.cancelFn()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Send dispatches an envelope to the server.
func (s *Session) Send(ctx context.Context, env protocol.Envelope) error {
	if s.encoder == nil {
		return net.ErrClosed
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.encoder.Encode(ctx, env)
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.closeOnce.Do(func() { close(s.messages) })
	for {
		if ctx.Err() != nil {
			return
		}
		env, err := s.decoder.Decode(ctx)
		if err != nil {
			return
		}
		select {
		case s.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}
