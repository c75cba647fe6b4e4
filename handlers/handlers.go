// Package handlers implements the drone-control action handlers bound to
// the router: ARM, DISARM, STATUS, SET_MODE and TELEMETRY. Each handler
// drives the shared device link and returns a response-shaped map.
package handlers

import (
	"context"
	"log/slog"

	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/router"
)

// Set bundles the action handlers around one shared device link.
type Set struct {
	link   drone.Link
	logger *slog.Logger
}

// New creates a handler set over the given device link.
func New(link drone.Link, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{link: link, logger: logger}
}

// RegisterAll binds every drone-control action to the router.
func RegisterAll(r *router.Router, link drone.Link, logger *slog.Logger) {
	s := New(link, logger)
	r.Register("ARM", s.Arm)
	r.Register("DISARM", s.Disarm)
	r.Register("STATUS", s.Status)
	r.Register("SET_MODE", s.SetMode)
	r.Register(router.ActionTelemetry, s.Telemetry)

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("All handlers registered", "actions", r.RegisteredActions())
}

// Arm handles the ARM command.
func (s *Set) Arm(ctx context.Context, _ map[string]any) (map[string]any, error) {
	s.logger.Info("Processing ARM command")

	ok, err := s.link.Arm(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": pick(ok, "armed", "arm_failed"),
		"status": pick(ok, "success", "failed"),
	}, nil
}

// Disarm handles the DISARM command.
func (s *Set) Disarm(ctx context.Context, _ map[string]any) (map[string]any, error) {
	s.logger.Info("Processing DISARM command")

	ok, err := s.link.Disarm(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": pick(ok, "disarmed", "disarm_failed"),
		"status": pick(ok, "success", "failed"),
	}, nil
}

// Status handles the STATUS command and returns a telemetry snapshot.
func (s *Set) Status(ctx context.Context, _ map[string]any) (map[string]any, error) {
	s.logger.Info("Processing STATUS command")

	status, err := s.link.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": "status",
		"status": "success",
		"telemetry": map[string]any{
			"battery_level": status.BatteryLevel,
			"altitude":      status.Altitude,
			"velocity":      status.GroundSpeed,
			"armed":         status.Armed,
			"flight_mode":   status.FlightMode,
		},
	}, nil
}

// SetMode handles the SET_MODE command.
func (s *Set) SetMode(ctx context.Context, params map[string]any) (map[string]any, error) {
	mode, _ := params["mode"].(string)
	if mode == "" {
		mode = "UNKNOWN"
	}
	s.logger.Info("Processing SET_MODE command", "mode", mode)

	ok, err := s.link.SetFlightMode(ctx, mode)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": pick(ok, "mode_changed", "mode_change_failed"),
		"mode":   mode,
		"status": pick(ok, "success", "failed"),
	}, nil
}

// Telemetry acknowledges inbound telemetry broadcasts.
func (s *Set) Telemetry(_ context.Context, params map[string]any) (map[string]any, error) {
	data, _ := params["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	s.logger.Info("Processing TELEMETRY broadcast")

	return map[string]any{
		"result": "telemetry_received",
		"status": "success",
		"data":   data,
	}, nil
}

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
