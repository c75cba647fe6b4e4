package service

import (
	"context"
	"time"
)

// State represents the lifecycle state of a supervised service
type State int

const (
	// StateStopped indicates the service is not running
	StateStopped State = iota
	// StateStarting indicates bring-up is in progress
	StateStarting
	// StateRunning indicates the service is running
	StateRunning
	// StateStopping indicates shutdown is in progress
	StateStopping
)

// String returns a string representation of the lifecycle state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transport is the lifecycle contract every supervised transport server
// satisfies. No component transitions another's state except through this
// contract.
type Transport interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
