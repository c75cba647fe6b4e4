package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwdrones/DroneController/metric"
)

func stubHandler(result map[string]any, err error) (Handler, *int) {
	calls := new(int)
	return func(_ context.Context, _ map[string]any) (map[string]any, error) {
		*calls++
		return result, err
	}, calls
}

func TestRoute_Command(t *testing.T) {
	r := New(nil, nil)
	want := map[string]any{"result": "armed", "status": "success"}
	handler, calls := stubHandler(want, nil)
	r.Register("ARM", handler)

	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"action": "ARM",
		"params": map[string]any{},
	})

	assert.Equal(t, want, got)
	assert.Equal(t, 1, *calls)
}

func TestRoute_CommandMissingAction(t *testing.T) {
	r := New(nil, nil)
	handler, calls := stubHandler(map[string]any{"result": "ok"}, nil)
	r.Register("ARM", handler)

	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"params": map[string]any{},
	})

	assert.Equal(t, map[string]any{"error": "No action specified"}, got)
	assert.Zero(t, *calls)
}

func TestRoute_Telemetry(t *testing.T) {
	r := New(nil, nil)

	var gotParams map[string]any
	r.Register(ActionTelemetry, func(_ context.Context, params map[string]any) (map[string]any, error) {
		gotParams = params
		return map[string]any{"result": "telemetry_received", "status": "success"}, nil
	})

	result := r.Route(context.Background(), map[string]any{
		"type": "telemetry",
		"data": map[string]any{"battery": 90.0},
	})

	assert.Equal(t, "telemetry_received", result["result"])
	assert.Equal(t, map[string]any{"data": map[string]any{"battery": 90.0}}, gotParams)
}

func TestRoute_UnknownType(t *testing.T) {
	r := New(nil, nil)
	handler, calls := stubHandler(map[string]any{"result": "ok"}, nil)
	r.Register("ARM", handler)

	got := r.Route(context.Background(), map[string]any{"type": "gibberish"})
	assert.Equal(t, map[string]any{"error": "Unknown message type: gibberish"}, got)
	assert.Zero(t, *calls)

	got = r.Route(context.Background(), map[string]any{"action": "ARM"})
	assert.Equal(t, map[string]any{"error": "Unknown message type: <nil>"}, got)
	assert.Zero(t, *calls)
}

func TestRoute_UnknownAction(t *testing.T) {
	r := New(nil, nil)

	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"action": "LAUNCH_FIREWORKS",
		"params": map[string]any{},
	})

	assert.Equal(t, map[string]any{"error": "Unknown action: LAUNCH_FIREWORKS"}, got)
}

func TestRoute_HandlerError(t *testing.T) {
	r := New(nil, nil)
	handler, _ := stubHandler(nil, errors.New("link down"))
	r.Register("ARM", handler)

	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"action": "ARM",
		"params": map[string]any{},
	})

	assert.Equal(t, map[string]any{"error": "Handler error: link down"}, got)
}

func TestRegister_Idempotent(t *testing.T) {
	r := New(nil, nil)
	handler, _ := stubHandler(map[string]any{"result": "ok"}, nil)

	r.Register("ARM", handler)
	r.Register("ARM", handler)

	assert.Equal(t, []string{"ARM"}, r.RegisteredActions())
}

func TestRegister_LastWins(t *testing.T) {
	r := New(nil, nil)
	first, firstCalls := stubHandler(map[string]any{"result": "first"}, nil)
	second, secondCalls := stubHandler(map[string]any{"result": "second"}, nil)

	r.Register("STATUS", first)
	r.Register("STATUS", second)

	got := r.Route(context.Background(), map[string]any{
		"type":   "command",
		"action": "STATUS",
		"params": map[string]any{},
	})

	assert.Equal(t, "second", got["result"])
	assert.Zero(t, *firstCalls)
	assert.Equal(t, 1, *secondCalls)
}

func TestRegisteredActions_Sorted(t *testing.T) {
	r := New(nil, nil)
	handler, _ := stubHandler(nil, nil)

	for _, action := range []string{"STATUS", "ARM", "TELEMETRY", "DISARM", "SET_MODE"} {
		r.Register(action, handler)
	}

	assert.Equal(t, []string{"ARM", "DISARM", "SET_MODE", "STATUS", "TELEMETRY"}, r.RegisteredActions())
	assert.True(t, r.IsRegistered("ARM"))
	assert.False(t, r.IsRegistered("LAND"))
}

func TestRoute_ConcurrentWithIntrospection(t *testing.T) {
	r := New(nil, metric.NewMetricsRegistry())
	handler, _ := stubHandler(map[string]any{"result": "ok", "status": "success"}, nil)
	r.Register("ARM", handler)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Route(context.Background(), map[string]any{
					"type": "command", "action": "ARM", "params": map[string]any{},
				})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.RegisteredActions()
				_ = r.IsRegistered("ARM")
			}
		}()
	}
	wg.Wait()

	require.True(t, r.IsRegistered("ARM"))
}
