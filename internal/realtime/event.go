// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package realtime

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType distinguishes the three row change kinds carried on the push
// channel.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is an inbound row change notification. Events are immutable once
// published; consumers must not mutate the row images.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Table     string                 `json:"table"`
	New       map[string]interface{} `json:"new,omitempty"`
	Old       map[string]interface{} `json:"old,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewRowEvent builds an event from typed row values. newRow and oldRow may be
// nil (DELETE carries no new image, INSERT no old image); non-nil values are
// converted to generic row images via their JSON form.
func NewRowEvent(t EventType, table string, newRow, oldRow interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Table:     table,
		New:       toRowImage(newRow),
		Old:       toRowImage(oldRow),
		Timestamp: time.Now().UTC(),
	}
}

// RowID returns the affected row's id, preferring the new image.
func (e Event) RowID() string {
	if id, ok := stringField(e.New, "id"); ok {
		return id
	}
	if id, ok := stringField(e.Old, "id"); ok {
		return id
	}
	return ""
}

// Topic returns the table-wide topic this event is published on.
func (e Event) Topic() string {
	return TableTopic(e.Table)
}

// DedupKey identifies an event for duplicate suppression: two deliveries of
// the same (id, type) pair are the same event.
func (e Event) DedupKey() string {
	return e.ID + "|" + string(e.Type)
}

// TableTopic returns the topic carrying all row changes for a table,
// e.g. "tables:campaigns".
func TableTopic(table string) string {
	return "tables:" + table
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes a wire payload into an Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// toRowImage converts a typed row to its generic map form.
func toRowImage(row interface{}) map[string]interface{} {
	if row == nil {
		return nil
	}
	data, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	var image map[string]interface{}
	if err := json.Unmarshal(data, &image); err != nil {
		return nil
	}
	return image
}

func stringField(image map[string]interface{}, field string) (string, bool) {
	if image == nil {
		return "", false
	}
	v, ok := image[field].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
