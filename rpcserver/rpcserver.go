// Package rpcserver binds the action router to a NATS request/reply
// subject, giving out-of-process callers the same Command/Response contract
// the streaming transport offers. The wire format is JSON over NATS; any
// richer RPC encoding stays outside this boundary.
package rpcserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/uwdrones/DroneController/errors"
	"github.com/uwdrones/DroneController/message"
	"github.com/uwdrones/DroneController/router"
)

// DefaultSubject is the request subject commands arrive on.
const DefaultSubject = "drone.rpc.command"

// Config holds the RPC transport settings.
type Config struct {
	URL     string
	Subject string
	Enabled bool
}

// DefaultConfig returns the default RPC transport settings.
func DefaultConfig() Config {
	return Config{URL: nats.DefaultURL, Subject: DefaultSubject}
}

// Server is the NATS request/reply transport server. A nil connection
// disables the transport; the rest of the system runs without a broker.
type Server struct {
	subject string
	conn    *nats.Conn
	router  *router.Router
	logger  *slog.Logger

	sub     *nats.Subscription
	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New creates an RPC server bound to the given router. conn may be nil.
func New(subject string, conn *nats.Conn, r *router.Router, logger *slog.Logger) *Server {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		subject: subject,
		conn:    conn,
		router:  r,
		logger:  logger,
	}
}

// Initialize validates the server configuration.
func (s *Server) Initialize() error {
	if s.router == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "router is required")
	}
	return nil
}

// Start subscribes to the request subject. Starting a running server is an
// error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start RPC server")
	}

	if s.conn == nil {
		s.logger.Warn("RPC transport disabled: no NATS connection")
		s.running = true
		return nil
	}

	requestCtx, cancel := context.WithCancel(ctx)

	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		reply := s.handleRequest(requestCtx, msg.Data)
		if err := msg.Respond(reply); err != nil {
			s.logger.Warn("Failed to send RPC reply", "subject", s.subject, "error", err)
		}
	})
	if err != nil {
		cancel()
		return errors.WrapFatal(err, "Server", "Start", "subscribe to request subject")
	}

	s.sub = sub
	s.cancel = cancel
	s.running = true
	s.logger.Info("RPC server started", "subject", s.subject)
	return nil
}

// handleRequest decodes one request payload, routes it, and encodes the
// reply. Every failure maps to the uniform error shape; this function never
// returns an empty reply.
func (s *Server) handleRequest(ctx context.Context, data []byte) []byte {
	msg, err := message.Decode(data)
	if err != nil {
		reply, encErr := message.Encode(map[string]any{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		if encErr != nil {
			return []byte(`{"error":"Invalid JSON format"}`)
		}
		return reply
	}

	result := s.router.Route(ctx, msg)

	reply, err := message.Encode(result)
	if err != nil {
		s.logger.Error("Failed to encode RPC reply", "error", err)
		return []byte(`{"error":"Internal encoding error"}`)
	}
	return reply
}

// Stop unsubscribes from the request subject. Stopping a stopped server is
// a no-op.
func (s *Server) Stop(_ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe RPC subject", "error", err)
		}
		s.sub = nil
	}

	s.logger.Info("RPC server stopped")
	return nil
}

// Running reports whether the server has been started.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
