package core

import "slices"

// UnallocatedReceipt is the computed view of a receipt whose total is not
// fully covered by its allocations.
type UnallocatedReceipt struct {
	Receipt Receipt  `json:"receipt"`
	Month   MonthKey `json:"month"`
	Amount  Amount   `json:"unallocated"`
}

// BucketSummary aggregates allocations to one bucket.
type BucketSummary struct {
	BucketID BucketID `json:"bucket_id"`
	Name     string   `json:"name"`
	Total    Amount   `json:"total"`
	Count    int      `json:"count"`
}

// Dashboard aggregates the selected months of a tenant.
type Dashboard struct {
	Months      []MonthKey           `json:"months"`
	Buckets     []BucketSummary      `json:"buckets"`
	Unallocated []UnallocatedReceipt `json:"unallocated"`
	VendorNames []string             `json:"vendor_names"`
}

// ListFilter selects receipts. Empty Months means every month.
type ListFilter struct {
	Months          []MonthKey
	Bucket          *BucketID
	UnallocatedOnly bool
}

// UnallocatedAmount returns total minus the allocated sum. It is not clamped:
// a negative result means the receipt is over-allocated.
func UnallocatedAmount(r Receipt) Amount {
	if len(r.Allocations) == 0 {
		return r.Total
	}
	return r.Total.Sub(r.Allocated())
}

// IsUnallocated reports whether part of the total is still unassigned.
// Fully allocated and over-allocated receipts are both excluded.
func IsUnallocated(r Receipt) bool {
	return UnallocatedAmount(r).IsPositive()
}

// NewUnallocatedReceipt builds the view for r.
func NewUnallocatedReceipt(r Receipt) UnallocatedReceipt {
	return UnallocatedReceipt{Receipt: r, Month: r.Month(), Amount: UnallocatedAmount(r)}
}

// Matches reports whether r passes the bucket and unallocated predicates.
// Month selection is applied by the caller through the index.
func (f ListFilter) Matches(r Receipt) bool {
	if f.Bucket != nil {
		if _, ok := r.AllocatedTo(*f.Bucket); !ok {
			return false
		}
	}
	if f.UnallocatedOnly && !IsUnallocated(r) {
		return false
	}
	return true
}

// SortReceipts orders receipts by date, then id.
func SortReceipts(rs []Receipt) {
	slices.SortFunc(rs, func(a, b Receipt) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
}
