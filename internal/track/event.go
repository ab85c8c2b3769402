package track

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventImportFinished is the name of the event emitted by an import that
// changed something.
const EventImportFinished = "ImportFinished"

// Event is a notification queued in the outbox. ID is the idempotency key
// consumers deduplicate on.
type Event struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// Publisher delivers an event to downstream consumers. Publish may be
// called more than once for the same event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ImportFinished is the payload of an ImportFinished event.
type ImportFinished struct {
	ImportID     string `json:"import_id"`
	TreeID       int64  `json:"tree_id"`
	EntryCount   int64  `json:"entryCount"`
	NewCount     int64  `json:"newCount"`
	ChangedCount int64  `json:"changedCount"`
	DeletedCount int64  `json:"deletedCount"`
}

// EventID returns the outbox id of the ImportFinished event for an import.
func (p ImportFinished) EventID() string {
	return p.ImportID + "_done"
}

// Event encodes p as an outbox event.
func (p ImportFinished) Event() (Event, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", EventImportFinished, err)
	}
	return Event{ID: p.EventID(), Name: EventImportFinished, Payload: payload}, nil
}

// DecodeImportFinished parses the payload of an ImportFinished event.
func DecodeImportFinished(event Event) (ImportFinished, error) {
	var p ImportFinished
	if event.Name != "" && event.Name != EventImportFinished {
		return p, fmt.Errorf("unexpected event %q", event.Name)
	}
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding %s payload: %w", EventImportFinished, err)
	}
	if p.ImportID == "" {
		return p, fmt.Errorf("decoding %s payload: missing import_id", EventImportFinished)
	}
	return p, nil
}
