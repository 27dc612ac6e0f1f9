package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustReceiptID(t *testing.T) ReceiptID {
	t.Helper()
	id, err := NewReceiptID()
	require.NoError(t, err)
	return id
}

func mustBucketID(t *testing.T, s string) BucketID {
	t.Helper()
	id, err := ParseBucketID(s)
	require.NoError(t, err)
	return id
}

const (
	bucketA = "0190f1b2-0000-7000-8000-00000000000a"
	bucketB = "0190f1b2-0000-7000-8000-00000000000b"
)

func TestUnallocatedAmount(t *testing.T) {
	b1 := mustBucketID(t, bucketA)
	b2 := mustBucketID(t, bucketB)

	tests := []struct {
		name            string
		total           string
		allocations     []Allocation
		wantUnallocated string
		wantInView      bool
	}{
		{
			name:            "no allocations returns total",
			total:           "100.00",
			wantUnallocated: "100",
			wantInView:      true,
		},
		{
			name:            "partial allocation",
			total:           "100.00",
			allocations:     []Allocation{{Bucket: b1, Amount: MustAmount("40.00")}},
			wantUnallocated: "60",
			wantInView:      true,
		},
		{
			name:  "exactly allocated across buckets",
			total: "0.30",
			allocations: []Allocation{
				{Bucket: b1, Amount: MustAmount("0.10")},
				{Bucket: b2, Amount: MustAmount("0.20")},
			},
			wantUnallocated: "0",
			wantInView:      false,
		},
		{
			name:            "over allocated is negative and excluded",
			total:           "50",
			allocations:     []Allocation{{Bucket: b1, Amount: MustAmount("75.5")}},
			wantUnallocated: "-25.5",
			wantInView:      false,
		},
		{
			name:            "zero total without allocations",
			total:           "0",
			wantUnallocated: "0",
			wantInView:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Receipt{Total: MustAmount(tt.total), Allocations: tt.allocations}
			got := UnallocatedAmount(r)
			assert.True(t, got.Equal(MustAmount(tt.wantUnallocated)), "got %s", got)
			assert.Equal(t, tt.wantInView, IsUnallocated(r))
		})
	}
}

func TestNewReceipt_Validation(t *testing.T) {
	b1 := mustBucketID(t, bucketA)
	date := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	valid := ReceiptInput{
		Vendor:   "  Acme  ",
		Total:    MustAmount("10"),
		Date:     date,
		Timezone: "Europe/Rome",
	}

	tests := []struct {
		name    string
		mutate  func(in *ReceiptInput)
		wantErr error
	}{
		{name: "valid", mutate: func(in *ReceiptInput) {}},
		{name: "empty vendor", mutate: func(in *ReceiptInput) { in.Vendor = "   " }, wantErr: ErrEmptyVendor},
		{name: "vendor too long", mutate: func(in *ReceiptInput) { in.Vendor = strings.Repeat("x", MaxVendorLength+1) }, wantErr: ErrVendorTooLong},
		{name: "negative total", mutate: func(in *ReceiptInput) { in.Total = MustAmount("-0.01") }, wantErr: ErrNegativeTotal},
		{name: "zero date", mutate: func(in *ReceiptInput) { in.Date = time.Time{} }, wantErr: ErrInvalidDate},
		{name: "unknown timezone", mutate: func(in *ReceiptInput) { in.Timezone = "Mars/Olympus" }, wantErr: ErrInvalidTimezone},
		{
			name: "negative allocation",
			mutate: func(in *ReceiptInput) {
				in.Allocations = []Allocation{{Bucket: b1, Amount: MustAmount("-1")}}
			},
			wantErr: ErrNegativeAllocation,
		},
		{
			name: "duplicate bucket",
			mutate: func(in *ReceiptInput) {
				in.Allocations = []Allocation{{Bucket: b1, Amount: MustAmount("1")}, {Bucket: b1, Amount: MustAmount("2")}}
			},
			wantErr: ErrDuplicateBucket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			r, err := NewReceipt(mustReceiptID(t), in)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Acme", r.Vendor)
			assert.NotNil(t, r.Allocations)
		})
	}
}

func TestNewReceipt_MonthFollowsTimezone(t *testing.T) {
	// 23:30 UTC on the last day of March is already April in Rome.
	date := time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)
	r, err := NewReceipt(mustReceiptID(t), ReceiptInput{
		Vendor: "Late", Total: MustAmount("1"), Date: date, Timezone: "Europe/Rome",
	})
	require.NoError(t, err)
	assert.Equal(t, MonthKey("2025-04"), r.Month())

	r, err = NewReceipt(mustReceiptID(t), ReceiptInput{Vendor: "Late", Total: MustAmount("1"), Date: date})
	require.NoError(t, err)
	assert.Equal(t, "UTC", r.Timezone)
	assert.Equal(t, MonthKey("2025-03"), r.Month())
}

func TestReceiptPatch_Apply(t *testing.T) {
	b1 := mustBucketID(t, bucketA)
	orig, err := NewReceipt(mustReceiptID(t), ReceiptInput{
		Vendor: "Acme", Total: MustAmount("100"), Date: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), Timezone: "UTC",
	})
	require.NoError(t, err)

	moved := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	allocs := []Allocation{{Bucket: b1, Amount: MustAmount("100")}}
	updated, err := ReceiptPatch{Date: &moved, Allocations: &allocs}.Apply(orig)
	require.NoError(t, err)

	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, MonthKey("2025-02"), updated.Month())
	assert.Equal(t, MonthKey("2025-01"), orig.Month())
	assert.Len(t, updated.Allocations, 1)
	assert.Empty(t, orig.Allocations)
	assert.False(t, IsUnallocated(updated))

	empty := ""
	_, err = ReceiptPatch{Vendor: &empty}.Apply(orig)
	assert.ErrorIs(t, err, ErrEmptyVendor)
	assert.True(t, ReceiptPatch{}.IsEmpty())
}

func TestParseIDs(t *testing.T) {
	id, err := ParseBucketID(bucketA)
	require.NoError(t, err)
	assert.Equal(t, bucketA, id.String())

	hex, err := ParseBucketID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, hex)

	for _, bad := range []string{"", "../etc", "00000000-0000-0000-0000-000000000000", "not-a-uuid"} {
		_, err := ParseTenantID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestReceiptID_TimeOrdered(t *testing.T) {
	a := mustReceiptID(t)
	time.Sleep(2 * time.Millisecond)
	b := mustReceiptID(t)
	assert.Negative(t, a.Compare(b))
}

func TestParseMonthKey(t *testing.T) {
	m, err := ParseMonthKey("2025-07")
	require.NoError(t, err)
	assert.Equal(t, MonthKey("2025-07"), m)

	for _, bad := range []string{"2025-13", "2025-7-01", "July", ""} {
		_, err := ParseMonthKey(bad)
		assert.ErrorIs(t, err, ErrInvalidMonth, bad)
	}

	months, err := ParseMonthKeys([]string{"2025-01", " ", "2025-02"})
	require.NoError(t, err)
	assert.Equal(t, []MonthKey{"2025-01", "2025-02"}, months)
}

func TestListFilter_Matches(t *testing.T) {
	b1 := mustBucketID(t, bucketA)
	b2 := mustBucketID(t, bucketB)
	r := Receipt{Total: MustAmount("10"), Allocations: []Allocation{{Bucket: b1, Amount: MustAmount("4")}}}

	assert.True(t, ListFilter{}.Matches(r))
	assert.True(t, ListFilter{Bucket: &b1}.Matches(r))
	assert.False(t, ListFilter{Bucket: &b2}.Matches(r))
	assert.True(t, ListFilter{UnallocatedOnly: true}.Matches(r))

	r.Allocations[0].Amount = MustAmount("10")
	assert.False(t, ListFilter{UnallocatedOnly: true}.Matches(r))
}
