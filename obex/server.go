package obex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// DefaultAddr is the IrOBEX over TCP port.
const DefaultAddr = ":6500"

// SessionFactory creates the session for a new connection.
type SessionFactory func(id string) *Session

// EngineHook is called for every new engine before it starts.
type EngineHook func(e *Engine)

// Server accepts OBEX push connections over TCP and runs one Engine per
// connection.
type Server struct {
	addr       string
	newSession SessionFactory
	onEngine   EngineHook
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	engines  map[string]*Engine
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer returns a server for addr. An empty addr means DefaultAddr.
func NewServer(addr string, newSession SessionFactory, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:       addr,
		newSession: newSession,
		logger:     logger.With("component", "obex"),
		engines:    map[string]*Engine{},
	}
}

// OnEngine registers a hook run for each connection, e.g. to attach
// request metrics. It must be called before Serve.
func (s *Server) OnEngine(hook EngineHook) {
	s.onEngine = hook
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, in which case it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.listener, s.cancel = ln, cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("OBEX server listening", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Shutdown may already be waiting for the engines
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		id := uuid.NewString()
		engine := NewEngine(conn, s.newSession(id), s.logger)
		if s.onEngine != nil {
			s.onEngine(engine)
		}

		s.mu.Lock()
		s.engines[id] = engine
		s.mu.Unlock()

		s.logger.Info("Session started", "session", id, "remote", conn.RemoteAddr().String())

		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.engines, id)
				s.mu.Unlock()
			}()

			if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Session failed", "session", id, "error", err)
				return
			}
			s.logger.Info("Session ended", "session", id)
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the ids of the live sessions.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.engines))
	for id := range s.engines {
		ids = append(ids, id)
	}
	return ids
}

// Abort asks session id to stop its transfer. It reports whether the
// session exists.
func (s *Server) Abort(id string) bool {
	s.mu.Lock()
	engine, ok := s.engines[id]
	s.mu.Unlock()
	if ok {
		engine.Abort()
	}
	return ok
}

// AbortAll asks every live session to stop its transfer and returns how
// many there were.
func (s *Server) AbortAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, engine := range s.engines {
		engine.Abort()
	}
	return len(s.engines)
}

// Shutdown stops accepting connections, ends all sessions and waits for
// them to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
