package drone

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/uwdrones/DroneController/errors"
)

// Simulator defaults: a parked drone near the university flight field.
const (
	simHomeLat     = 47.654200
	simHomeLon     = -122.308100
	simFullBattery = 100.0
)

// SimLink is a simulated flight controller link. State evolves a little on
// every GetStatus call (battery drain, GPS drift, heading wander) so that
// telemetry streams look alive without real hardware.
type SimLink struct {
	mu        sync.Mutex
	connected bool

	armed      bool
	flightMode string
	battery    float64
	lat        float64
	lon        float64
	altitude   float64
	heading    float64
	speed      float64

	rng    *rand.Rand
	logger *slog.Logger
}

// NewSimLink creates a simulated link seeded with the given source.
func NewSimLink(seed int64, logger *slog.Logger) *SimLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimLink{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// Connect establishes the simulated link and resets state to a parked drone.
func (s *SimLink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	s.armed = false
	s.flightMode = "STABILIZE"
	s.battery = simFullBattery
	s.lat = simHomeLat
	s.lon = simHomeLon
	s.altitude = 0
	s.heading = s.rng.Float64() * 360
	s.speed = 0

	s.logger.Info("Simulated flight controller connected")
	return nil
}

// Disconnect tears the simulated link down.
func (s *SimLink) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.logger.Info("Simulated flight controller disconnected")
	return nil
}

// Arm arms the simulated motors.
func (s *SimLink) Arm(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, errors.WrapTransient(errors.ErrNotConnected, "SimLink", "Arm", "arm motors")
	}
	s.armed = true
	s.logger.Info("Drone armed")
	return true, nil
}

// Disarm disarms the simulated motors.
func (s *SimLink) Disarm(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, errors.WrapTransient(errors.ErrNotConnected, "SimLink", "Disarm", "disarm motors")
	}
	s.armed = false
	s.speed = 0
	s.logger.Info("Drone disarmed")
	return true, nil
}

// SetFlightMode switches the simulated flight mode.
func (s *SimLink) SetFlightMode(_ context.Context, mode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, errors.WrapTransient(errors.ErrNotConnected, "SimLink", "SetFlightMode", "set flight mode")
	}
	if mode == "" {
		return false, nil
	}
	s.flightMode = mode
	s.logger.Info("Flight mode changed", "mode", mode)
	return true, nil
}

// GetStatus returns a snapshot of the simulated state, advancing the
// simulation one step.
func (s *SimLink) GetStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return Status{}, errors.WrapTransient(errors.ErrNotConnected, "SimLink", "GetStatus", "read status")
	}

	s.step()

	return Status{
		Armed:        s.armed,
		FlightMode:   s.flightMode,
		BatteryLevel: s.battery,
		GPSLat:       s.lat,
		GPSLon:       s.lon,
		Altitude:     s.altitude,
		Heading:      s.heading,
		GroundSpeed:  s.speed,
	}, nil
}

// IsConnected reports whether the simulated link is established.
func (s *SimLink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// step advances the simulation. Caller holds the mutex.
func (s *SimLink) step() {
	// Battery drains faster while armed
	drain := 0.005
	if s.armed {
		drain = 0.05
	}
	s.battery -= drain
	if s.battery < 0 {
		s.battery = 0
	}

	s.heading += (s.rng.Float64() - 0.5) * 4
	if s.heading < 0 {
		s.heading += 360
	}
	if s.heading >= 360 {
		s.heading -= 360
	}

	if s.armed {
		s.speed = clamp(s.speed+(s.rng.Float64()-0.5)*0.8, 0, 15)
		s.altitude = clamp(s.altitude+(s.rng.Float64()-0.4)*0.5, 0, 120)
		s.lat += (s.rng.Float64() - 0.5) * 1e-5
		s.lon += (s.rng.Float64() - 0.5) * 1e-5
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
