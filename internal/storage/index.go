package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"taxos/internal/core"
)

// IndexVersion is the schema version written to index.json. Any other
// version is treated as no index at all.
const IndexVersion = 1

const versionKey = "version"

// ErrIndexUnavailable means the index is missing, empty, unparseable or of
// another version. Callers rebuild instead of surfacing it.
var ErrIndexUnavailable = errors.New("receipt index unavailable")

// MonthIndex maps month keys to the sorted ids of receipts dated in them.
type MonthIndex map[core.MonthKey][]core.ReceiptID

// Add places id under month. Only that month is touched; use Move when the
// receipt may already be filed elsewhere.
func (ix MonthIndex) Add(month core.MonthKey, id core.ReceiptID) {
	ids := ix[month]
	pos, found := slices.BinarySearchFunc(ids, id, core.ReceiptID.Compare)
	if found {
		return
	}
	ix[month] = slices.Insert(ids, pos, id)
}

// Move files id under to, dropping it from from. When from does not hold
// id every month is searched, so a stale entry never survives.
func (ix MonthIndex) Move(from, to core.MonthKey, id core.ReceiptID) {
	if from != to && !ix.removeFrom(from, id) {
		ix.Remove(id)
	}
	ix.Add(to, id)
}

// Remove drops id from whichever month holds it.
func (ix MonthIndex) Remove(id core.ReceiptID) bool {
	removed := false
	for m := range ix {
		if ix.removeFrom(m, id) {
			removed = true
		}
	}
	return removed
}

// MonthOf returns the month holding id.
func (ix MonthIndex) MonthOf(id core.ReceiptID) (core.MonthKey, bool) {
	for m, ids := range ix {
		if _, found := slices.BinarySearchFunc(ids, id, core.ReceiptID.Compare); found {
			return m, true
		}
	}
	return "", false
}

func (ix MonthIndex) removeFrom(month core.MonthKey, id core.ReceiptID) bool {
	ids := ix[month]
	pos, found := slices.BinarySearchFunc(ids, id, core.ReceiptID.Compare)
	if !found {
		return false
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) == 0 {
		delete(ix, month)
	} else {
		ix[month] = ids
	}
	return true
}

// Len counts ids across all months.
func (ix MonthIndex) Len() int {
	n := 0
	for _, ids := range ix {
		n += len(ids)
	}
	return n
}

// MarshalJSON writes {"version": 1, "YYYY-MM": [ids...], ...}.
func (ix MonthIndex) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(ix)+1)
	doc[versionKey] = IndexVersion
	for m, ids := range ix {
		if len(ids) == 0 {
			continue
		}
		sorted := slices.Clone(ids)
		slices.SortFunc(sorted, core.ReceiptID.Compare)
		doc[string(m)] = sorted
	}
	return json.Marshal(doc)
}

// UnmarshalJSON rejects unknown versions, invalid month keys and invalid
// ids with core.ErrCorruptState.
func (ix *MonthIndex) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: index: %v", core.ErrCorruptState, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: index is null", core.ErrCorruptState)
	}

	var version int
	rawVersion, ok := doc[versionKey]
	if !ok {
		return fmt.Errorf("%w: index has no version", core.ErrCorruptState)
	}
	if err := json.Unmarshal(rawVersion, &version); err != nil || version != IndexVersion {
		return fmt.Errorf("%w: index version %s, want %d", core.ErrCorruptState, rawVersion, IndexVersion)
	}
	delete(doc, versionKey)

	out := make(MonthIndex, len(doc))
	seen := make(map[core.ReceiptID]core.MonthKey)
	for key, raw := range doc {
		month, err := core.ParseMonthKey(key)
		if err != nil {
			return fmt.Errorf("%w: index key %q", core.ErrCorruptState, key)
		}
		var ids []core.ReceiptID
		if err := json.Unmarshal(raw, &ids); err != nil {
			return fmt.Errorf("%w: index month %s: %v", core.ErrCorruptState, key, err)
		}
		for _, id := range ids {
			if other, dup := seen[id]; dup && other != month {
				return fmt.Errorf("%w: receipt %s indexed under %s and %s", core.ErrCorruptState, id, other, month)
			}
			seen[id] = month
		}
		slices.SortFunc(ids, core.ReceiptID.Compare)
		ids = slices.Compact(ids)
		if len(ids) > 0 {
			out[month] = ids
		}
	}
	*ix = out
	return nil
}

// IndexStore persists one MonthIndex per tenant.
type IndexStore struct {
	layout Layout
}

func NewIndexStore(layout Layout) *IndexStore {
	return &IndexStore{layout: layout}
}

// Load returns ErrIndexUnavailable, wrapping the cause, whenever the
// index cannot be used as-is.
func (s *IndexStore) Load(_ context.Context, tenant core.TenantID) (MonthIndex, error) {
	data, err := os.ReadFile(s.layout.IndexFile(tenant))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing", ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrIndexUnavailable)
	}

	var ix MonthIndex
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	return ix, nil
}

// Save replaces the index atomically.
func (s *IndexStore) Save(_ context.Context, tenant core.TenantID, ix MonthIndex) error {
	data, err := json.Marshal(ix)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := writeFileAtomic(s.layout.IndexFile(tenant), data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Remove deletes the index so the next read rebuilds it.
func (s *IndexStore) Remove(_ context.Context, tenant core.TenantID) error {
	if err := os.Remove(s.layout.IndexFile(tenant)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove index: %w", err)
	}
	return nil
}
