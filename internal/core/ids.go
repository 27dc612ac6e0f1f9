package core

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// TenantID identifies an isolated owner of buckets and receipts.
	TenantID uuid.UUID

	// ReceiptID is a time-ordered (UUIDv7) receipt identifier.
	ReceiptID uuid.UUID

	// BucketID is a weak reference to a spending bucket.
	BucketID uuid.UUID

	// MonthKey partitions the receipt index, formatted "YYYY-MM".
	MonthKey string
)

const monthLayout = "2006-01"

func parseUUID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s id %q: %v", ErrInvalidID, kind, s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s id is nil", ErrInvalidID, kind)
	}
	return id, nil
}

// ParseTenantID validates s and returns a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID("tenant", s)
	return TenantID(id), err
}

// ParseReceiptID validates s and returns a ReceiptID.
func ParseReceiptID(s string) (ReceiptID, error) {
	id, err := parseUUID("receipt", s)
	return ReceiptID(id), err
}

// ParseBucketID validates s and returns a BucketID.
func ParseBucketID(s string) (BucketID, error) {
	id, err := parseUUID("bucket", s)
	return BucketID(id), err
}

func (id TenantID) String() string { return uuid.UUID(id).String() }
func (id TenantID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }

// Hex returns the undashed form used by older directory trees.
func (id TenantID) Hex() string { return strings.ReplaceAll(id.String(), "-", "") }

func (id ReceiptID) String() string { return uuid.UUID(id).String() }
func (id ReceiptID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ReceiptID) Hex() string    { return strings.ReplaceAll(id.String(), "-", "") }

// Compare orders ids bytewise, which is creation order for UUIDv7.
func (id ReceiptID) Compare(other ReceiptID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ReceiptID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ReceiptID) UnmarshalText(b []byte) error {
	parsed, err := ParseReceiptID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id BucketID) String() string { return uuid.UUID(id).String() }
func (id BucketID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id BucketID) Hex() string    { return strings.ReplaceAll(id.String(), "-", "") }

func (id BucketID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *BucketID) UnmarshalText(b []byte) error {
	parsed, err := ParseBucketID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewReceiptID returns a fresh UUIDv7 receipt id.
func NewReceiptID() (ReceiptID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ReceiptID{}, fmt.Errorf("generate receipt id: %w", err)
	}
	return ReceiptID(id), nil
}

// ParseMonthKey validates a "YYYY-MM" string.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(monthLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthKey(s), nil
}

// ParseMonthKeys validates every entry, skipping blanks.
func ParseMonthKeys(values []string) ([]MonthKey, error) {
	months := make([]MonthKey, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		m, err := ParseMonthKey(v)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, nil
}

// MonthOf truncates t to its month key in t's own location.
func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthLayout))
}

func (m MonthKey) String() string { return string(m) }
