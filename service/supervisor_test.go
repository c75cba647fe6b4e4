package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwdrones/DroneController/drone"
	"github.com/uwdrones/DroneController/telemetry"
)

// recordingLink tracks lifecycle calls.
type recordingLink struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	disconnects   int
	connectCalled bool
}

func (l *recordingLink) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectCalled = true
	if l.connectErr != nil {
		return l.connectErr
	}
	l.connected = true
	return nil
}

func (l *recordingLink) Disconnect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	l.connected = false
	return nil
}

func (l *recordingLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *recordingLink) Arm(context.Context) (bool, error)                   { return true, nil }
func (l *recordingLink) Disarm(context.Context) (bool, error)                { return true, nil }
func (l *recordingLink) SetFlightMode(context.Context, string) (bool, error) { return true, nil }
func (l *recordingLink) GetStatus(context.Context) (drone.Status, error)     { return drone.Status{}, nil }

// fakeTransport is a scriptable Transport.
type fakeTransport struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stops    int
	stopTime time.Time
}

func (t *fakeTransport) Initialize() error { return nil }

func (t *fakeTransport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	return nil
}

func (t *fakeTransport) Stop(time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.stopTime = time.Now()
	t.started = false
	return nil
}

func newSupervisor(link *recordingLink, streaming, rpc *fakeTransport) *Supervisor {
	b := telemetry.New(link, 10*time.Millisecond, nil, nil)
	return New(link, streaming, rpc, b, nil)
}

func TestStartAndShutdown(t *testing.T) {
	link := &recordingLink{}
	streaming := &fakeTransport{}
	rpc := &fakeTransport{}
	sup := newSupervisor(link, streaming, rpc)

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, StateRunning, sup.State())
	assert.True(t, link.IsConnected())
	assert.True(t, streaming.started)
	assert.True(t, rpc.started)

	require.NoError(t, sup.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, sup.State())
	assert.False(t, link.IsConnected())
	assert.Equal(t, 1, streaming.stops)
	assert.Equal(t, 1, rpc.stops)
}

func TestStart_TransportFailureTriggersFullShutdown(t *testing.T) {
	link := &recordingLink{}
	streaming := &fakeTransport{startErr: errors.New("bind: address already in use")}
	rpc := &fakeTransport{}
	sup := newSupervisor(link, streaming, rpc)

	err := sup.Start(context.Background())
	require.Error(t, err)

	// The link that did connect is disconnected before Start returns
	assert.True(t, link.connectCalled)
	assert.Equal(t, 1, link.disconnects)
	assert.False(t, link.IsConnected())
	assert.Equal(t, StateStopped, sup.State())
}

func TestStart_LinkFailureStopsTransports(t *testing.T) {
	link := &recordingLink{connectErr: errors.New("no route to flight controller")}
	streaming := &fakeTransport{}
	rpc := &fakeTransport{}
	sup := newSupervisor(link, streaming, rpc)

	err := sup.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, streaming.stops)
	assert.Equal(t, 1, rpc.stops)
	assert.Equal(t, StateStopped, sup.State())
}

func TestStart_WhileRunningFails(t *testing.T) {
	link := &recordingLink{}
	sup := newSupervisor(link, &fakeTransport{}, &fakeTransport{})

	require.NoError(t, sup.Start(context.Background()))
	defer func() { _ = sup.Shutdown(context.Background()) }()

	assert.Error(t, sup.Start(context.Background()))
}

func TestShutdown_Idempotent(t *testing.T) {
	link := &recordingLink{}
	streaming := &fakeTransport{}
	sup := newSupervisor(link, streaming, &fakeTransport{})

	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.Shutdown(context.Background()))
	require.NoError(t, sup.Shutdown(context.Background()))

	assert.Equal(t, 1, streaming.stops)
	assert.Equal(t, 1, link.disconnects)
}

func TestShutdown_Reentrant(t *testing.T) {
	link := &recordingLink{}
	streaming := &fakeTransport{}
	sup := newSupervisor(link, streaming, &fakeTransport{})
	require.NoError(t, sup.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sup.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	// Only the first caller's sequence executed
	assert.Equal(t, 1, streaming.stops)
	assert.Equal(t, 1, link.disconnects)
	assert.Equal(t, StateStopped, sup.State())
}

func TestShutdown_OrderStreamingBeforeRPC(t *testing.T) {
	link := &recordingLink{}
	streaming := &fakeTransport{}
	rpc := &fakeTransport{}
	sup := newSupervisor(link, streaming, rpc)

	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.Shutdown(context.Background()))

	assert.False(t, streaming.stopTime.After(rpc.stopTime))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}
