// Package service supervises the device link, both transport servers and
// the telemetry broadcast loop: concurrent bring-up, and ordered,
// idempotent, best-effort teardown.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/errors"
	"github.com/uwdrones/DroneController/telemetry"
)

// DefaultStopTimeout bounds each shutdown step.
const DefaultStopTimeout = 5 * time.Second

// Supervisor owns the device link, the streaming and RPC transports, and
// the broadcaster run loop. It is the only component allowed to drive
// their lifecycles.
type Supervisor struct {
	link        drone.Link
	streaming   Transport
	rpc         Transport
	broadcaster *telemetry.Broadcaster
	logger      *slog.Logger
	stopTimeout time.Duration

	mu              sync.Mutex
	state           State
	cancelBroadcast context.CancelFunc
	broadcastDone   chan struct{}
}

// New creates a Supervisor over the given components.
func New(link drone.Link, streaming, rpc Transport, broadcaster *telemetry.Broadcaster, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		link:        link,
		streaming:   streaming,
		rpc:         rpc,
		broadcaster: broadcaster,
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects the device link and starts both transports concurrently.
// If any piece fails to come up, everything that did start is shut down
// before Start returns; partial bring-up is never left running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "start services")
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.logger.Info("Starting drone control server")

	for _, transport := range []Transport{s.streaming, s.rpc} {
		if err := transport.Initialize(); err != nil {
			s.mu.Lock()
			s.state = StateStopped
			s.mu.Unlock()
			return err
		}
	}

	startOps := []func() error{
		func() error { return s.link.Connect(ctx) },
		func() error { return s.streaming.Start(ctx) },
		func() error { return s.rpc.Start(ctx) },
	}

	errs := make(chan error, len(startOps))
	var wg sync.WaitGroup
	for _, op := range startOps {
		wg.Add(1)
		go func(op func() error) {
			defer wg.Done()
			errs <- op()
		}(op)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			s.logger.Error("Failed to start services", "error", err)
			_ = s.Shutdown(ctx)
			return err
		}
	}

	broadcastCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.broadcaster.Run(broadcastCtx)
	}()

	s.mu.Lock()
	s.cancelBroadcast = cancel
	s.broadcastDone = done
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("Drone control server running")
	return nil
}

// Shutdown tears everything down in strict order: streaming transport, RPC
// transport, device link. Each step is best-effort; a failure is logged and
// later steps still run. Idempotent and safe to call concurrently from a
// signal path; only the first caller's sequence executes.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancelBroadcast
	done := s.broadcastDone
	s.cancelBroadcast = nil
	s.broadcastDone = nil
	s.mu.Unlock()

	s.logger.Info("Shutting down drone control server")

	if cancel != nil {
		cancel()
		if done != nil {
			select {
			case <-done:
			case <-time.After(s.stopTimeout):
				s.logger.Warn("Broadcast loop did not stop within timeout")
			}
		}
	}

	if err := s.streaming.Stop(s.stopTimeout); err != nil {
		s.logger.Error("Failed to stop streaming server", "error", err)
	}
	if err := s.rpc.Stop(s.stopTimeout); err != nil {
		s.logger.Error("Failed to stop RPC server", "error", err)
	}
	if err := s.link.Disconnect(ctx); err != nil {
		s.logger.Error("Failed to disconnect device link", "error", err)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("Server shutdown complete")
	return nil
}
