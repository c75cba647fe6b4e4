// Package message defines the unified wire message format shared by the
// WebSocket and RPC transports. Three shapes exist on the wire, tagged by
// their "type" field: command, telemetry, and response. The router's uniform
// failure shape {"error": ...} deliberately carries no type tag.
package message

import (
	"encoding/json"
	"time"

	"github.com/uwdrones/DroneController/errors"
)

// Message type tags used on the wire
const (
	TypeCommand   = "command"
	TypeTelemetry = "telemetry"
	TypeResponse  = "response"
)

// Command requests a drone-control action from the server.
type Command struct {
	Type      string         `json:"type"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Timestamp float64        `json:"timestamp"`
}

// Telemetry carries drone status data pushed by a peer.
type Telemetry struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// Response reports the outcome of a command. Data is optional and marshals
// to null when absent.
type Response struct {
	Type      string         `json:"type"`
	Result    string         `json:"result"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// now returns the current wall-clock time as seconds since epoch.
// All message timestamps come from this single clock.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewCommand creates a command message stamped with the current time.
func NewCommand(action string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{
		Type:      TypeCommand,
		Action:    action,
		Params:    params,
		Timestamp: now(),
	}
}

// NewTelemetry creates a telemetry message stamped with the current time.
func NewTelemetry(data map[string]any) Telemetry {
	if data == nil {
		data = map[string]any{}
	}
	return Telemetry{
		Type:      TypeTelemetry,
		Data:      data,
		Timestamp: now(),
	}
}

// NewResponse creates a response message stamped with the current time.
func NewResponse(result, status string, data map[string]any) Response {
	return Response{
		Type:      TypeResponse,
		Result:    result,
		Status:    status,
		Data:      data,
		Timestamp: now(),
	}
}

// Encode serializes a message to compact JSON with stable field order.
// Struct-based marshalling keeps the output deterministic, which matters
// for golden-file comparison and log diffing.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Encode", "marshal message")
	}
	return data, nil
}

// Decode parses wire text into a generic message map. A syntactically
// malformed payload yields an error carrying the parser diagnostic,
// never a partial map.
func Decode(data []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Decode", "parse JSON")
	}
	return msg, nil
}

// Validate reports whether raw is a well-formed message map: a recognized
// type tag with the required fields for that type present and of the right
// shape. Absence of validity is communicated by the boolean result only.
func Validate(raw map[string]any) bool {
	if raw == nil {
		return false
	}

	msgType, _ := raw["type"].(string)
	switch msgType {
	case TypeCommand:
		return nonEmptyString(raw, "action") && isMapping(raw, "params")
	case TypeTelemetry:
		return isMapping(raw, "data")
	case TypeResponse:
		return nonEmptyString(raw, "result") && nonEmptyString(raw, "status")
	default:
		return false
	}
}

func nonEmptyString(raw map[string]any, key string) bool {
	s, ok := raw[key].(string)
	return ok && s != ""
}

func isMapping(raw map[string]any, key string) bool {
	v, ok := raw[key]
	if !ok {
		return false
	}
	_, ok = v.(map[string]any)
	return ok
}
