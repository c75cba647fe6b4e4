// Package router dispatches inbound messages to registered action handlers.
// It is the single isolation boundary between the transports and the
// handlers: every failure, including a handler's, is converted to the
// uniform {"error": ...} shape so transports have one result to serialize
// and never an error to catch.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwdrones/DroneController/message"
	"github.com/uwdrones/DroneController/metric"
)

// ActionTelemetry is the implicit action for inbound telemetry messages.
const ActionTelemetry = "TELEMETRY"

// Handler processes the parameters of one routed message and returns a
// response-shaped map. Handlers run to completion before Route returns.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Router maps action identifiers to handlers. Registration is expected at
// startup; lookups are safe concurrently with Route.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Handler
	logger *slog.Logger

	metrics *Metrics
}

// Metrics holds Prometheus metrics for the router
type Metrics struct {
	messagesRouted *prometheus.CounterVec
}

// newMetrics creates and registers router metrics. A nil registry yields
// nil metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dronecontroller",
			Subsystem: "router",
			Name:      "messages_routed_total",
			Help:      "Messages routed, by action and outcome",
		}, []string{"action", "outcome"}),
	}

	registry.PrometheusRegistry().MustRegister(metrics.messagesRouted)
	return metrics
}

// New creates a Router. Logger and registry may be nil.
func New(logger *slog.Logger, registry *metric.MetricsRegistry) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes:  make(map[string]Handler),
		logger:  logger,
		metrics: newMetrics(registry),
	}
}

// Register stores handler under action. Re-registration overwrites; the
// handler used by a Route call is the one resolved at that call, looked up
// exactly once.
func (r *Router) Register(action string, handler Handler) {
	r.mu.Lock()
	r.routes[action] = handler
	r.mu.Unlock()

	r.logger.Info("Registered handler", "action", action)
}

// Route classifies msg, resolves its handler and invokes it synchronously.
// The result is always a response-shaped or {"error": ...} map; failures
// never propagate to the caller.
func (r *Router) Route(ctx context.Context, msg map[string]any) map[string]any {
	var action string
	var params map[string]any

	msgType, _ := msg["type"].(string)
	switch msgType {
	case message.TypeCommand:
		action, _ = msg["action"].(string)
		if action == "" {
			r.logger.Error("No action specified in command message")
			r.count("", "missing_action")
			return map[string]any{"error": "No action specified"}
		}
		params, _ = msg["params"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
	case message.TypeTelemetry:
		action = ActionTelemetry
		data, _ := msg["data"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		params = map[string]any{"data": data}
	default:
		r.logger.Error("Unknown message type", "type", msg["type"])
		r.count("", "unknown_type")
		return map[string]any{"error": fmt.Sprintf("Unknown message type: %v", msg["type"])}
	}

	// Single lookup per Route call; re-registration affects later calls only
	r.mu.RLock()
	handler, ok := r.routes[action]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("Unknown action", "action", action)
		r.count(action, "unknown_action")
		return map[string]any{"error": fmt.Sprintf("Unknown action: %s", action)}
	}

	result, err := handler(ctx, params)
	if err != nil {
		r.logger.Error("Handler failed", "action", action, "error", err)
		r.count(action, "handler_error")
		return map[string]any{"error": fmt.Sprintf("Handler error: %s", err.Error())}
	}

	r.count(action, "ok")
	return result
}

// RegisteredActions returns the sorted list of registered actions.
func (r *Router) RegisteredActions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.routes))
	for action := range r.routes {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// IsRegistered reports whether a handler is bound to action.
func (r *Router) IsRegistered(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[action]
	return ok
}

func (r *Router) count(action, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.messagesRouted.WithLabelValues(action, outcome).Inc()
}
