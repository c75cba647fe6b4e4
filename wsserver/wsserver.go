// Package wsserver implements the WebSocket streaming transport. Each
// accepted connection receives a welcome response, joins the telemetry
// broadcast pool, and enters a duplex loop binding every inbound frame to
// the action router. A malformed frame earns an error reply, never a
// closed connection.
package wsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwdrones/DroneController/errors"
	"github.com/uwdrones/DroneController/message"
	"github.com/uwdrones/DroneController/metric"
	"github.com/uwdrones/DroneController/router"
	"github.com/uwdrones/DroneController/telemetry"
)

const (
	// DefaultHost binds all interfaces
	DefaultHost = "0.0.0.0"
	// DefaultPort is the default streaming endpoint port
	DefaultPort = 8765
	// DefaultPath is the WebSocket endpoint path
	DefaultPath = "/ws"

	writeTimeout = 10 * time.Second
)

// Config holds the streaming server settings.
type Config struct {
	Host string
	Port int
	Path string
}

// DefaultConfig returns the default streaming server settings.
func DefaultConfig() Config {
	return Config{Host: DefaultHost, Port: DefaultPort, Path: DefaultPath}
}

// Metrics holds Prometheus metrics for the streaming server
type Metrics struct {
	connectionsTotal prometheus.Counter
	clientsConnected prometheus.Gauge
	decodeErrors     prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dronecontroller",
			Subsystem: "wsserver",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dronecontroller",
			Subsystem: "wsserver",
			Name:      "clients_connected",
			Help:      "Currently connected WebSocket clients",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dronecontroller",
			Subsystem: "wsserver",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed JSON decoding",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.connectionsTotal,
		metrics.clientsConnected,
		metrics.decodeErrors,
	)

	return metrics
}

// client wraps one WebSocket connection as a telemetry subscriber. Writes
// are serialized through a mutex; gorilla connections do not allow
// concurrent writers.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// ID returns the client session identifier.
func (c *client) ID() string { return c.id }

// Send writes one text frame to the peer.
func (c *client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the WebSocket streaming transport server.
type Server struct {
	config      Config
	router      *router.Router
	broadcaster *telemetry.Broadcaster
	logger      *slog.Logger
	metrics     *Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clients   map[string]*client
	clientsMu sync.Mutex

	running     bool
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// New creates a streaming server bound to the given router and broadcaster.
func New(cfg Config, r *router.Router, b *telemetry.Broadcaster, logger *slog.Logger, registry *metric.MetricsRegistry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:      cfg,
		router:      r,
		broadcaster: b,
		logger:      logger,
		metrics:     newMetrics(registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Ground-station clients connect from arbitrary origins
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Initialize validates the server configuration.
func (s *Server) Initialize() error {
	if s.config.Port < 0 || s.config.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			fmt.Sprintf("invalid port %d", s.config.Port))
	}
	if s.config.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "WebSocket path cannot be empty")
	}
	if s.router == nil || s.broadcaster == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "router and broadcaster are required")
	}
	return nil
}

// Start binds the listener and begins accepting connections. Starting an
// already-running server is an error.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start streaming server")
	}
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("bind listener on %s", addr))
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(sessionCtx, w, r)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serve(srv, listener)

	s.logger.Info("WebSocket server started", "addr", listener.Addr().String(), "path", s.config.Path)
	return nil
}

// serve runs the HTTP server until Stop shuts it down.
func (s *Server) serve(srv *http.Server, listener net.Listener) {
	defer s.wg.Done()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("WebSocket server failed", "error", err)
	}
}

// Addr returns the bound listener address, or empty when not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stop closes the listener and shuts the server down, waiting up to timeout
// for listener-level resources to release. Stopping a stopped server is a
// no-op.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}

	// Close remaining client connections so session loops unwind
	s.clientsMu.Lock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("WebSocket sessions did not exit within timeout")
	}

	s.logger.Info("WebSocket server stopped")
	return nil
}

// handleWebSocket upgrades the connection and runs the per-connection
// session.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.logger.Info("WebSocket client connected", "id", c.id, "remote", r.RemoteAddr)

	s.clientsMu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}

	s.wg.Add(1)
	go s.runSession(ctx, c)
}

// runSession performs the per-connection protocol: welcome frame, broadcast
// subscription, then the duplex message loop. Teardown always removes the
// subscriber, whether triggered by a clean close or a network fault.
func (s *Server) runSession(ctx context.Context, c *client) {
	defer s.wg.Done()
	defer s.teardown(c)

	welcome := message.NewResponse("connected", "success", map[string]any{
		"message": "Telemetry stream started",
	})
	data, err := message.Encode(welcome)
	if err != nil {
		s.logger.Error("Failed to encode welcome message", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		s.logger.Warn("Failed to send welcome message", "id", c.id, "error", err)
		return
	}

	s.broadcaster.AddSubscriber(c)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			// Peer closed or network fault; session ends cleanly
			s.logger.Info("WebSocket client disconnected", "id", c.id)
			return
		}

		msg, err := message.Decode(frame)
		if err != nil {
			// One bad frame does not close the connection
			if s.metrics != nil {
				s.metrics.decodeErrors.Inc()
			}
			reply, encErr := message.Encode(map[string]any{
				"error":   "Invalid JSON format",
				"details": err.Error(),
			})
			if encErr != nil {
				continue
			}
			if c.Send(reply) != nil {
				return
			}
			continue
		}

		result := s.router.Route(ctx, msg)
		reply, err := message.Encode(result)
		if err != nil {
			s.logger.Error("Failed to encode route result", "id", c.id, "error", err)
			continue
		}
		if c.Send(reply) != nil {
			return
		}
	}
}

// teardown removes the client from the broadcast pool and the client map.
func (s *Server) teardown(c *client) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	s.broadcaster.RemoveSubscriber(c)

	s.clientsMu.Lock()
	delete(s.clients, c.id)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.clientsConnected.Set(float64(count))
	}

	_ = c.conn.Close()
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
