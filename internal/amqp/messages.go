package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"taxos/internal/core"
)

// EventType names what happened to a tenant's receipts or buckets
type EventType string

const (
	EventReceiptCreated EventType = "receipt.created"
	EventReceiptUpdated EventType = "receipt.updated"
	EventReceiptDeleted EventType = "receipt.deleted"
	EventIndexRebuilt   EventType = "index.rebuilt"
	EventBucketDeleted  EventType = "bucket.deleted"
)

// ErrInvalidEvent is returned for envelopes that cannot be handled at all
var ErrInvalidEvent = errors.New("invalid event")

// IsReceiptEvent reports whether t concerns a single receipt
func (t EventType) IsReceiptEvent() bool {
	return strings.HasPrefix(string(t), "receipt.")
}

// Event is the envelope published on the exchange. It carries ids only;
// consumers read the receipts themselves.
type Event struct {
	Type      EventType       `json:"type"`
	TenantID  string          `json:"tenant_id"`
	ReceiptID string          `json:"receipt_id,omitempty"`
	BucketID  string          `json:"bucket_id,omitempty"`
	Months    []core.MonthKey `json:"months,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewReceiptEvent builds a receipt event. Months are deduplicated and sorted.
func NewReceiptEvent(t EventType, tenant core.TenantID, id core.ReceiptID, months ...core.MonthKey) *Event {
	ms := slices.Clone(months)
	slices.Sort(ms)
	ms = slices.Compact(ms)
	return &Event{
		Type:      t,
		TenantID:  tenant.String(),
		ReceiptID: id.String(),
		Months:    ms,
		Timestamp: time.Now().UTC(),
	}
}

// NewIndexRebuiltEvent builds the event sent after a full rebuild
func NewIndexRebuiltEvent(tenant core.TenantID, months []core.MonthKey) *Event {
	return &Event{
		Type:      EventIndexRebuilt,
		TenantID:  tenant.String(),
		Months:    slices.Clone(months),
		Timestamp: time.Now().UTC(),
	}
}

// NewBucketDeletedEvent builds the event sent by bucket management
func NewBucketDeletedEvent(tenant core.TenantID, bucket core.BucketID) *Event {
	return &Event{
		Type:      EventBucketDeleted,
		TenantID:  tenant.String(),
		BucketID:  bucket.String(),
		Timestamp: time.Now().UTC(),
	}
}

// Tenant parses the tenant id
func (e *Event) Tenant() (core.TenantID, error) {
	return core.ParseTenantID(e.TenantID)
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes and validates an envelope. Unknown types, a bad
// tenant id or a bad month key all yield ErrInvalidEvent.
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch e.Type {
	case EventReceiptCreated, EventReceiptUpdated, EventReceiptDeleted, EventIndexRebuilt, EventBucketDeleted:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if _, err := e.Tenant(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	for _, m := range e.Months {
		if _, err := core.ParseMonthKey(string(m)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	return &e, nil
}
