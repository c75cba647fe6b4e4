// Package telemetry turns point-in-time device status snapshots into a
// stable wire shape and pushes them to subscribed streaming clients.
//
// Two delivery modes exist: a shared timer loop (Run/BroadcastOnce) that
// fans one snapshot out to every subscriber, and a dedicated per-connection
// loop (StreamTo) for transports that keep one task per connection. Both
// tolerate individual subscriber failures: a failed send removes that
// subscriber and never aborts delivery to the others.
package telemetry

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/errors"
	"github.com/uwdrones/DroneController/message"
	"github.com/uwdrones/DroneController/metric"
)

// DefaultInterval is the broadcast period when none is configured.
const DefaultInterval = time.Second

// Subscriber is an opaque handle capable of receiving telemetry frames.
// Implementations must tolerate concurrent Send calls from the broadcast
// and per-connection paths serializing internally.
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

// Metrics holds Prometheus metrics for the broadcaster
type Metrics struct {
	broadcastsTotal   prometheus.Counter
	sendFailuresTotal prometheus.Counter
	subscribersGauge  prometheus.Gauge
	broadcastDuration prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dronecontroller",
			Subsystem: "telemetry",
			Name:      "broadcasts_total",
			Help:      "Completed broadcast passes",
		}),
		sendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dronecontroller",
			Subsystem: "telemetry",
			Name:      "send_failures_total",
			Help:      "Subscriber sends that failed and caused removal",
		}),
		subscribersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dronecontroller",
			Subsystem: "telemetry",
			Name:      "subscribers",
			Help:      "Currently subscribed streaming clients",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dronecontroller",
			Subsystem: "telemetry",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one snapshot to all subscribers",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.broadcastsTotal,
		metrics.sendFailuresTotal,
		metrics.subscribersGauge,
		metrics.broadcastDuration,
	)

	return metrics
}

// Broadcaster owns the subscriber registry and the broadcast loops.
type Broadcaster struct {
	link     drone.Link
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber

	metrics *Metrics

	// now is replaceable in tests for a stable formatted timestamp
	now func() time.Time
}

// New creates a Broadcaster over the given device link. Interval <= 0 uses
// DefaultInterval; logger and registry may be nil.
func New(link drone.Link, interval time.Duration, logger *slog.Logger, registry *metric.MetricsRegistry) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		link:        link,
		interval:    interval,
		logger:      logger,
		subscribers: make(map[string]Subscriber),
		metrics:     newMetrics(registry),
		now:         time.Now,
	}
}

// AddSubscriber registers a subscriber. Adding a handle that is already
// present is a no-op.
func (b *Broadcaster) AddSubscriber(sub Subscriber) {
	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.subscribersGauge.Set(float64(count))
	}
	b.logger.Info("Added telemetry subscriber", "id", sub.ID(), "total", count)
}

// RemoveSubscriber unregisters a subscriber. Removing an absent handle is a
// no-op.
func (b *Broadcaster) RemoveSubscriber(sub Subscriber) {
	b.mu.Lock()
	_, present := b.subscribers[sub.ID()]
	delete(b.subscribers, sub.ID())
	count := len(b.subscribers)
	b.mu.Unlock()

	if !present {
		return
	}
	if b.metrics != nil {
		b.metrics.subscribersGauge.Set(float64(count))
	}
	b.logger.Info("Removed telemetry subscriber", "id", sub.ID(), "total", count)
}

// ClientCount returns the number of subscribed clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Format projects a device status into the stable telemetry wire shape.
// Numeric fields are rounded to fixed precision so output is reproducible:
// two decimals for physical quantities, one for heading, six for
// geographic coordinates.
func (b *Broadcaster) Format(status drone.Status) map[string]any {
	connected := b.link.IsConnected()
	connStatus := "disconnected"
	if connected {
		connStatus = "connected"
	}

	return map[string]any{
		"timestamp":   b.now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		"armed":       status.Armed,
		"flight_mode": status.FlightMode,
		"battery": map[string]any{
			"level": round(status.BatteryLevel, 2),
			"unit":  "percent",
		},
		"position": map[string]any{
			"latitude":  round(status.GPSLat, 6),
			"longitude": round(status.GPSLon, 6),
			"altitude":  round(status.Altitude, 2),
			"unit":      "meters",
		},
		"attitude": map[string]any{
			"heading": round(status.Heading, 1),
			"unit":    "degrees",
		},
		"velocity": map[string]any{
			"ground_speed": round(status.GroundSpeed, 2),
			"unit":         "m/s",
		},
		"connection": map[string]any{
			"connected": connected,
			"status":    connStatus,
		},
	}
}

// BroadcastOnce fetches one status snapshot and delivers it to a snapshot
// of the subscriber set. Subscribers whose send fails are collected and
// removed after the full pass completes.
func (b *Broadcaster) BroadcastOnce(ctx context.Context) error {
	if b.ClientCount() == 0 {
		return nil
	}

	start := time.Now()

	status, err := b.link.GetStatus(ctx)
	if err != nil {
		b.logger.Error("Failed to fetch status for broadcast", "error", err)
		return errors.Wrap(err, "Broadcaster", "BroadcastOnce", "fetch status")
	}

	data, err := message.Encode(b.Format(status))
	if err != nil {
		return err
	}

	// Snapshot taken atomically before iteration starts; membership changes
	// during the pass never invalidate it.
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	// Sends are independent per subscriber so one slow or dead client
	// cannot stall the rest.
	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []Subscriber

	for _, sub := range snapshot {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			if err := sub.Send(data); err != nil {
				b.logger.Warn("Failed to send telemetry to subscriber", "id", sub.ID(), "error", err)
				failedMu.Lock()
				failed = append(failed, sub)
				failedMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	// Remove failures only after the full pass
	for _, sub := range failed {
		b.RemoveSubscriber(sub)
		if b.metrics != nil {
			b.metrics.sendFailuresTotal.Inc()
		}
	}

	if b.metrics != nil {
		b.metrics.broadcastsTotal.Inc()
		b.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}

	return nil
}

// Run drives BroadcastOnce on the configured interval until ctx is
// cancelled. Successive passes never overlap: a pass completes before the
// next tick is consumed.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("Telemetry broadcaster started", "interval", b.interval)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telemetry broadcaster stopped")
			return
		case <-ticker.C:
			_ = b.BroadcastOnce(ctx)
		}
	}
}

// StreamTo delivers telemetry to a single subscriber on a dedicated loop:
// while the device link reports connected, fetch, format and send, then
// sleep one interval. The first send failure unregisters the subscriber and
// ends the loop. This path serves transports that keep one task per
// connection instead of the shared timer.
func (b *Broadcaster) StreamTo(ctx context.Context, sub Subscriber) {
	b.AddSubscriber(sub)
	defer b.RemoveSubscriber(sub)

	for b.link.IsConnected() {
		status, err := b.link.GetStatus(ctx)
		if err != nil {
			b.logger.Error("Failed to fetch status for stream", "id", sub.ID(), "error", err)
			return
		}

		data, err := message.Encode(b.Format(status))
		if err != nil {
			b.logger.Error("Failed to encode telemetry", "id", sub.ID(), "error", err)
			return
		}

		if err := sub.Send(data); err != nil {
			b.logger.Warn("Subscriber send failed, ending stream", "id", sub.ID(), "error", err)
			if b.metrics != nil {
				b.metrics.sendFailuresTotal.Inc()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.interval):
		}
	}
}

// round rounds v to the given number of decimal places.
func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
