package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fenggwsx/SlashBoard/internal/board"
	"github.com/fenggwsx/SlashBoard/internal/config"
	"github.com/fenggwsx/SlashBoard/internal/metrics"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
	"github.com/fenggwsx/SlashBoard/internal/storage"
)

// App coordinates network listeners, session lifecycle, and board access.
type App struct {
	cfg       config.ServerConfig
	store     storage.Store
	board     *board.Store
	hub       *TopicHub
	metrics   *metrics.Metrics
	clock     func() time.Time
	listener  net.Listener
	closeOnce sync.Once
}

// Option customises an App.
type Option func(*App)

// WithClock overrides the time source used for message timestamps and tokens.
func WithClock(clock func() time.Time) Option {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) {
		a.metrics = m
	}
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store, messages *board.Store, opts ...Option) *App {
	a := &App{
		cfg:   cfg,
		store: store,
		board: messages,
		hub:   NewTopicHub(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts accepting connections until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = listener
	log.Printf("board listening addr=%s", listener.Addr())

	metricsSrv := a.startMetrics()

	errCh := make(chan error, 1)

	go func() {
		<-ctx.Done()
		a.closeOnce.Do(func() {
			_ = a.listener.Close()
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
		})
	}()

	go func() {
		for {
			conn, err := a.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- err
				return
			}
			go a.handleConnection(ctx, conn)
		}
	}()

	return <-errCh
}

func (a *App) startMetrics() *http.Server {
	if a.metrics == nil || a.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics listener: %v", err)
		}
	}()
	log.Printf("metrics listening addr=%s", a.cfg.MetricsAddr)
	return srv
}

func (a *App) handleConnection(parentCtx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	session := newClientSession(a.hub, conn)
	defer session.close()

	a.metrics.SessionOpened()
	defer a.metrics.SessionClosed()
	log.Printf("session open id=%s remote=%s", session.id, session.remoteAddr())

	decoder := protocol.NewDecoder(conn, a.cfg.MaxFrameBytes)
	encoder := protocol.NewEncoder(conn)

	go func() {
		if err := session.writeLoop(ctx, encoder, a.cfg.WriteTimeout); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("write loop id=%s: %v", session.id, err)
		}
		cancel()
	}()

	for {
		if a.cfg.ReadTimeout > 0 {
			if deadlineErr := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); deadlineErr != nil {
				log.Printf("set read deadline: %v", deadlineErr)
				return
			}
		}
		env, err := decoder.Decode(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Printf("session closed id=%s remote=%s", session.id, session.remoteAddr())
				return
			}
			log.Printf("decode id=%s: %v", session.id, err)
			return
		}

		// Requests from one connection are served in order so a client
		// can rely on create-then-update sequencing.
		if err := a.routeEnvelope(ctx, session, env); err != nil {
			log.Printf("route id=%s ref=%s: %v", session.id, env.ID, err)
		}
	}
}

func (a *App) routeEnvelope(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	switch env.Type {
	case protocol.MessageTypeAuthRequest:
		return a.handleAuth(ctx, session, env)
	case protocol.MessageTypeCommand:
		return a.handleCommand(ctx, session, env)
	default:
		a.sendAck(ctx, session, env.ID, ackStatusError, codeUnsupported, "unsupported envelope type")
		return nil
	}
}

// timestamp is the board clock in nanoseconds since the Unix epoch.
func (a *App) timestamp() uint64 {
	return uint64(a.clock().UnixNano())
}
