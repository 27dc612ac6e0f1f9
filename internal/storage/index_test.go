package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxos/internal/core"
	"taxos/internal/storage"
	"taxos/internal/storage/storagetest"
)

func newIDs(t *testing.T, n int) []core.ReceiptID {
	t.Helper()
	ids := make([]core.ReceiptID, n)
	for i := range ids {
		id, err := core.NewReceiptID()
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestMonthIndex_AddRemove(t *testing.T) {
	ids := newIDs(t, 3)
	ix := storage.MonthIndex{}

	ix.Add("2025-01", ids[1])
	ix.Add("2025-01", ids[0])
	ix.Add("2025-01", ids[0])
	assert.Equal(t, []core.ReceiptID{ids[0], ids[1]}, ix["2025-01"])

	// Moving to another month drops the stale entry.
	ix.Move("2025-01", "2025-02", ids[1])
	assert.Equal(t, []core.ReceiptID{ids[0]}, ix["2025-01"])
	assert.Equal(t, []core.ReceiptID{ids[1]}, ix["2025-02"])
	assert.Equal(t, 2, ix.Len())

	assert.True(t, ix.Remove(ids[1]))
	assert.False(t, ix.Remove(ids[1]))
	assert.False(t, ix.Remove(ids[2]))
	_, ok := ix["2025-02"]
	assert.False(t, ok, "empty month must be dropped")
}

func TestMonthIndex_Move(t *testing.T) {
	ids := newIDs(t, 2)

	tests := []struct {
		name  string
		start storage.MonthIndex
		from  core.MonthKey
		to    core.MonthKey
		want  storage.MonthIndex
	}{
		{
			name:  "same month",
			start: storage.MonthIndex{"2025-01": {ids[0], ids[1]}},
			from:  "2025-01",
			to:    "2025-01",
			want:  storage.MonthIndex{"2025-01": {ids[0], ids[1]}},
		},
		{
			name:  "known old month",
			start: storage.MonthIndex{"2025-01": {ids[0], ids[1]}},
			from:  "2025-01",
			to:    "2025-02",
			want:  storage.MonthIndex{"2025-01": {ids[0]}, "2025-02": {ids[1]}},
		},
		{
			name:  "last id of a month",
			start: storage.MonthIndex{"2025-01": {ids[1]}},
			from:  "2025-01",
			to:    "2025-02",
			want:  storage.MonthIndex{"2025-02": {ids[1]}},
		},
		{
			name:  "wrong old month falls back to a scan",
			start: storage.MonthIndex{"2025-01": {ids[0], ids[1]}},
			from:  "2024-12",
			to:    "2025-02",
			want:  storage.MonthIndex{"2025-01": {ids[0]}, "2025-02": {ids[1]}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.start.Move(tt.from, tt.to, ids[1])
			assert.Equal(t, tt.want, tt.start)
		})
	}
}

func TestIndexStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewIndexStore(layout)
	ids := newIDs(t, 3)

	ix := storage.MonthIndex{}
	ix.Add("2025-01", ids[0])
	ix.Add("2025-01", ids[2])
	ix.Add("2024-11", ids[1])
	require.NoError(t, store.Save(ctx, tenant, ix))

	raw, err := os.ReadFile(layout.IndexFile(tenant))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(storage.IndexVersion), doc["version"])
	assert.Len(t, doc["2025-01"], 2)

	got, err := store.Load(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, ix, got)

	require.NoError(t, store.Remove(ctx, tenant))
	require.NoError(t, store.Remove(ctx, tenant))
	_, err = store.Load(ctx, tenant)
	assert.ErrorIs(t, err, storage.ErrIndexUnavailable)
}

func TestIndexStore_Unavailable(t *testing.T) {
	ids := newIDs(t, 1)
	id := ids[0].String()

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"whitespace", "  \n"},
		{"truncated", `{"version": 1, "2025-01": ["` + id},
		{"legacy unversioned", `{"2025-01": ["` + id + `"]}`},
		{"future version", `{"version": 2, "2025-01": ["` + id + `"]}`},
		{"bad month key", `{"version": 1, "January": ["` + id + `"]}`},
		{"bad id", `{"version": 1, "2025-01": ["nope"]}`},
		{"id in two months", `{"version": 1, "2025-01": ["` + id + `"], "2025-02": ["` + id + `"]}`},
		{"not an object", `[1, 2, 3]`},
		{"null", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			layout, tenant := storagetest.NewTenant(t)
			storagetest.WriteRaw(t, layout, tenant, "receipts/index.json", tt.content)

			_, err := storage.NewIndexStore(layout).Load(ctx, tenant)
			assert.ErrorIs(t, err, storage.ErrIndexUnavailable)
		})
	}
}
