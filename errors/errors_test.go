package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrap(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "Server", "Start", "bind listener")

	require.Error(t, err)
	assert.Equal(t, "Server.Start: bind listener failed: connection refused", err.Error())
	assert.ErrorIs(t, err, base)

	assert.NoError(t, Wrap(nil, "Server", "Start", "bind listener"))
}

func TestWrapInvalid_Classification(t *testing.T) {
	err := WrapInvalid(ErrInvalidData, "Router", "Route", "classify message")

	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrorInvalid, Classify(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Router", ce.Component)
	assert.Equal(t, "Route", ce.Operation)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(WrapTransient(stderrors.New("boom"), "Link", "Connect", "dial")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(WrapFatal(stderrors.New("boom"), "Link", "Connect", "dial")))
}

func TestClassify_Defaults(t *testing.T) {
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("something odd")))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
}

func TestUnwrap(t *testing.T) {
	base := stderrors.New("root cause")
	err := WrapTransient(base, "Link", "Arm", "send command")
	assert.ErrorIs(t, err, base)
}
