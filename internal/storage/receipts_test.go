package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxos/internal/core"
	"taxos/internal/storage"
	"taxos/internal/storage/storagetest"
)

func newReceipt(t *testing.T, vendor, total string, date time.Time, allocs ...core.Allocation) core.Receipt {
	t.Helper()
	id, err := core.NewReceiptID()
	require.NoError(t, err)
	r, err := core.NewReceipt(id, core.ReceiptInput{
		Vendor:      vendor,
		Total:       core.MustAmount(total),
		Date:        date,
		Timezone:    "Europe/Rome",
		Allocations: allocs,
		Notes:       "note",
		Hash:        "abc123",
	})
	require.NoError(t, err)
	return r
}

func TestReceiptStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	bucket := storagetest.AddBucket(t, layout, tenant, "Food")
	store := storage.NewReceiptStore(layout)

	r := newReceipt(t, "Acme", "100.50", time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
		core.Allocation{Bucket: bucket, Amount: core.MustAmount("40")})
	require.NoError(t, store.Create(ctx, tenant, r))

	path := filepath.Join(layout.ReceiptsDir(tenant), r.ID.String(), "state.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"id", "vendor", "total", "date", "timezone", "allocations", "vendor_ref", "notes", "hash"} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, 100.5, doc["total"])
	assert.Equal(t, "2025-05-02T12:00:00+02:00", doc["date"])

	got, err := store.Load(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "Acme", got.Vendor)
	assert.True(t, got.Total.Equal(r.Total))
	assert.True(t, got.Date.Equal(r.Date))
	assert.Equal(t, core.MonthKey("2025-05"), got.Month())
	require.Len(t, got.Allocations, 1)
	assert.Equal(t, bucket, got.Allocations[0].Bucket)

	ids, err := store.IDs(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, []core.ReceiptID{r.ID}, ids)

	deleted, err := store.Delete(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.Load(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReceiptStore_CreateCollision(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewReceiptStore(layout)

	r := newReceipt(t, "Acme", "1", time.Now())
	require.NoError(t, store.Create(ctx, tenant, r))

	err := store.Create(ctx, tenant, r)
	assert.ErrorIs(t, err, core.ErrCollision)

	// An empty placeholder does not count as occupied.
	other := newReceipt(t, "Other", "1", time.Now())
	storagetest.WriteRaw(t, layout, tenant, filepath.Join("receipts", other.ID.String(), "state.json"), "")
	assert.NoError(t, store.Create(ctx, tenant, other))
}

func TestReceiptStore_LoadLegacyDocument(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewReceiptStore(layout)

	id, err := core.NewReceiptID()
	require.NoError(t, err)
	b1, err := core.ParseBucketID("0190f1b2-0000-7000-8000-00000000000a")
	require.NoError(t, err)
	b2, err := core.ParseBucketID("0190f1b2-0000-7000-8000-00000000000b")
	require.NoError(t, err)

	doc := `{
		"guid": "` + id.Hex() + `",
		"vendor": "Old Shop",
		"total": "25.00",
		"date": "2024-12-31T23:30:00",
		"timezone": "America/New_York",
		"allocations": [
			["` + b1.String() + `", 10],
			{"bucket": {"guid": "` + b2.Hex() + `"}, "amount": 5.5},
			{"bucket": "not-a-bucket", "amount": 1},
			42
		]
	}`
	storagetest.WriteRaw(t, layout, tenant, filepath.Join("receipts", id.Hex(), "state.json"), doc)

	got, err := store.Load(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "Old Shop", got.Vendor)
	assert.Equal(t, core.MonthKey("2024-12"), got.Month())
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, b1, got.Allocations[0].Bucket)
	assert.True(t, got.Allocations[1].Amount.Equal(core.MustAmount("5.5")))

	ids, err := store.IDs(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, []core.ReceiptID{id}, ids)
}

func TestReceiptStore_LoadWithoutUsableTimezone(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewReceiptStore(layout)

	tests := []struct {
		name     string
		timezone string
		date     string
	}{
		{"empty naive", `""`, "2024-12-31T23:30:00"},
		{"unknown naive", `"Mars/Base"`, "2024-12-31T23:30:00"},
		{"empty with offset", `""`, "2025-01-01T00:30:00+01:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := core.NewReceiptID()
			require.NoError(t, err)
			storagetest.WriteRaw(t, layout, tenant, filepath.Join("receipts", id.String(), "state.json"),
				`{"vendor": "Old Shop", "total": 1, "timezone": `+tt.timezone+`, "date": "`+tt.date+`"}`)

			got, err := store.Load(ctx, tenant, id)
			require.NoError(t, err)
			assert.Equal(t, "UTC", got.Timezone)
			assert.Equal(t, time.UTC, got.Date.Location())
			assert.Equal(t, core.MonthKey("2024-12"), got.Month())
			require.NoError(t, got.Validate())
		})
	}
}

func TestReceiptStore_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewReceiptStore(layout)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"truncated", `{"vendor": "Acme", "tot`},
		{"missing date", `{"vendor": "Acme", "total": 1}`},
		{"foreign id", `{"id": "0190f1b2-0000-7000-8000-0000000000ff", "vendor": "x", "total": 1, "date": "2025-01-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := core.NewReceiptID()
			require.NoError(t, err)
			storagetest.WriteRaw(t, layout, tenant, filepath.Join("receipts", id.String(), "state.json"), tt.content)

			_, err = store.Load(ctx, tenant, id)
			assert.ErrorIs(t, err, core.ErrCorruptState)
		})
	}
}

func TestBucketStore(t *testing.T) {
	ctx := context.Background()
	layout, tenant := storagetest.NewTenant(t)
	store := storage.NewBucketStore(layout)

	travel := storagetest.AddBucket(t, layout, tenant, "travel")
	food := storagetest.AddBucket(t, layout, tenant, "Food")

	b, err := store.GetBucket(ctx, tenant, food)
	require.NoError(t, err)
	assert.Equal(t, "Food", b.Name)

	list, err := store.ListBuckets(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, food, list[0].ID)
	assert.Equal(t, travel, list[1].ID)

	storagetest.RemoveBucket(t, layout, tenant, travel)
	_, err = store.GetBucket(ctx, tenant, travel)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLayout_RequireTenant(t *testing.T) {
	layout, tenant := storagetest.NewTenant(t)
	assert.NoError(t, layout.RequireTenant(tenant))

	other, err := core.ParseTenantID("0190f1b2-0000-7000-8000-000000000001")
	require.NoError(t, err)
	assert.ErrorIs(t, layout.RequireTenant(other), core.ErrNotFound)
}
