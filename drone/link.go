// Package drone defines the device-link capability interface consumed by
// command handlers and the telemetry broadcaster, along with a
// self-contained simulator implementation for running without flight
// hardware.
package drone

import "context"

// Status is a point-in-time snapshot of the flight controller state.
type Status struct {
	Armed        bool
	FlightMode   string
	BatteryLevel float64
	GPSLat       float64
	GPSLon       float64
	Altitude     float64
	Heading      float64
	GroundSpeed  float64
}

// Link is the capability interface to the flight controller. Implementations
// may talk to real hardware or simulate it; callers never depend on which.
// All operations besides IsConnected may fail; failures surface as errors,
// never panics.
type Link interface {
	// Connect establishes the link to the flight controller.
	Connect(ctx context.Context) error

	// Disconnect tears the link down. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// Arm arms the motors. Returns false when the controller refuses.
	Arm(ctx context.Context) (bool, error)

	// Disarm disarms the motors. Returns false when the controller refuses.
	Disarm(ctx context.Context) (bool, error)

	// SetFlightMode switches the flight mode.
	SetFlightMode(ctx context.Context, mode string) (bool, error)

	// GetStatus fetches a status snapshot.
	GetStatus(ctx context.Context) (Status, error)

	// IsConnected reports whether the link is currently established.
	IsConnected() bool
}
