// Package publisher delivers outbox events to downstream transports.
//
// Every implementation satisfies track.Publisher. Publish may be called
// more than once for the same event, so transports carry the event id
// for consumers to deduplicate on.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"

	"fstrack/internal/track"
)

var (
	// ErrQueueFull is returned by Memory when its buffer is full.
	ErrQueueFull = errors.New("publisher queue full")
	// ErrUnknownType is returned by the factory for an unsupported type.
	ErrUnknownType = errors.New("unknown publisher type")
)

// Envelope is the wire form of an event on every transport that carries
// bytes.
type Envelope struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes an event as an Envelope.
func Encode(event track.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{ID: event.ID, Name: event.Name, Payload: event.Payload})
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", event.ID, err)
	}
	return data, nil
}

// Decode parses an Envelope produced by Encode.
func Decode(data []byte) (track.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return track.Event{}, fmt.Errorf("decoding event envelope: %w", err)
	}
	if env.ID == "" {
		return track.Event{}, fmt.Errorf("decoding event envelope: missing id")
	}
	return track.Event{ID: env.ID, Name: env.Name, Payload: env.Payload}, nil
}
