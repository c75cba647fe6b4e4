package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/router"
)

// fakeLink is a scriptable device link for handler tests.
type fakeLink struct {
	connected bool
	armOK     bool
	disarmOK  bool
	modeOK    bool
	status    drone.Status
	err       error

	lastMode string
}

func (f *fakeLink) Connect(context.Context) error    { f.connected = true; return f.err }
func (f *fakeLink) Disconnect(context.Context) error { f.connected = false; return nil }
func (f *fakeLink) IsConnected() bool                { return f.connected }

func (f *fakeLink) Arm(context.Context) (bool, error)    { return f.armOK, f.err }
func (f *fakeLink) Disarm(context.Context) (bool, error) { return f.disarmOK, f.err }

func (f *fakeLink) SetFlightMode(_ context.Context, mode string) (bool, error) {
	f.lastMode = mode
	return f.modeOK, f.err
}

func (f *fakeLink) GetStatus(context.Context) (drone.Status, error) {
	return f.status, f.err
}

func TestArm(t *testing.T) {
	s := New(&fakeLink{armOK: true}, nil)

	got, err := s.Arm(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "armed", "status": "success"}, got)
}

func TestArm_Refused(t *testing.T) {
	s := New(&fakeLink{armOK: false}, nil)

	got, err := s.Arm(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "arm_failed", "status": "failed"}, got)
}

func TestArm_LinkError(t *testing.T) {
	s := New(&fakeLink{err: errors.New("not connected to flight controller")}, nil)

	_, err := s.Arm(context.Background(), nil)
	assert.Error(t, err)
}

func TestDisarm(t *testing.T) {
	s := New(&fakeLink{disarmOK: true}, nil)

	got, err := s.Disarm(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "disarmed", "status": "success"}, got)
}

func TestStatus(t *testing.T) {
	s := New(&fakeLink{status: drone.Status{
		Armed:        true,
		FlightMode:   "AUTO",
		BatteryLevel: 87.5,
		Altitude:     12.0,
		GroundSpeed:  3.2,
	}}, nil)

	got, err := s.Status(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "status", got["result"])
	assert.Equal(t, "success", got["status"])
	assert.Equal(t, map[string]any{
		"battery_level": 87.5,
		"altitude":      12.0,
		"velocity":      3.2,
		"armed":         true,
		"flight_mode":   "AUTO",
	}, got["telemetry"])
}

func TestSetMode(t *testing.T) {
	link := &fakeLink{modeOK: true}
	s := New(link, nil)

	got, err := s.SetMode(context.Background(), map[string]any{"mode": "LOITER"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "mode_changed", "mode": "LOITER", "status": "success"}, got)
	assert.Equal(t, "LOITER", link.lastMode)
}

func TestSetMode_DefaultsUnknown(t *testing.T) {
	link := &fakeLink{modeOK: false}
	s := New(link, nil)

	got, err := s.SetMode(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", got["mode"])
	assert.Equal(t, "mode_change_failed", got["result"])
}

func TestTelemetry(t *testing.T) {
	s := New(&fakeLink{}, nil)

	data := map[string]any{"battery": 90.0}
	got, err := s.Telemetry(context.Background(), map[string]any{"data": data})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "telemetry_received", "status": "success", "data": data}, got)
}

func TestRegisterAll(t *testing.T) {
	r := router.New(nil, nil)
	RegisterAll(r, &fakeLink{armOK: true}, nil)

	assert.Equal(t, []string{"ARM", "DISARM", "SET_MODE", "STATUS", "TELEMETRY"}, r.RegisteredActions())

	// End-to-end through the router
	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"action": "ARM",
		"params": map[string]any{},
	})
	assert.Equal(t, map[string]any{"result": "armed", "status": "success"}, got)
}
