package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxVendorLength bounds the vendor name in bytes.
const MaxVendorLength = 200

type (
	// Allocation assigns part of a receipt's total to a bucket.
	Allocation struct {
		Bucket BucketID `json:"bucket"`
		Amount Amount   `json:"amount"`
	}

	// Receipt is the source-of-truth record stored once per document.
	Receipt struct {
		ID          ReceiptID    `json:"id"`
		Vendor      string       `json:"vendor"`
		Total       Amount       `json:"total"`
		Date        time.Time    `json:"date"`
		Timezone    string       `json:"timezone"`
		Allocations []Allocation `json:"allocations"`
		VendorRef   string       `json:"vendor_ref"`
		Notes       string       `json:"notes"`
		Hash        string       `json:"hash"`
	}

	// Bucket is a named spending category owned by a tenant.
	Bucket struct {
		ID   BucketID `json:"id"`
		Name string   `json:"name"`
	}

	// ReceiptInput carries the fields of a receipt to create.
	ReceiptInput struct {
		Vendor      string
		Total       Amount
		Date        time.Time
		Timezone    string
		Allocations []Allocation
		VendorRef   string
		Notes       string
		Hash        string
	}

	// ReceiptPatch changes the non-nil fields of an existing receipt.
	// Allocations, when set, replace the whole allocation set.
	ReceiptPatch struct {
		Vendor      *string
		Total       *Amount
		Date        *time.Time
		Timezone    *string
		Allocations *[]Allocation
		VendorRef   *string
		Notes       *string
		Hash        *string
	}
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrCorruptState = errors.New("corrupt state")
	ErrCollision    = errors.New("id collision")

	ErrInvalidID          = fmt.Errorf("%w: invalid id", ErrValidation)
	ErrInvalidMonth       = fmt.Errorf("%w: invalid month", ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyVendor        = fmt.Errorf("%w: empty vendor", ErrValidation)
	ErrVendorTooLong      = fmt.Errorf("%w: vendor too long (max %d characters)", ErrValidation, MaxVendorLength)
	ErrNegativeTotal      = fmt.Errorf("%w: total must not be negative", ErrValidation)
	ErrInvalidDate        = fmt.Errorf("%w: date cannot be zero", ErrValidation)
	ErrInvalidTimezone    = fmt.Errorf("%w: invalid timezone", ErrValidation)
	ErrNegativeAllocation = fmt.Errorf("%w: allocation amount must not be negative", ErrValidation)
	ErrDuplicateBucket    = fmt.Errorf("%w: duplicate allocation bucket", ErrValidation)
)

// Month returns the index partition of the receipt.
func (r Receipt) Month() MonthKey {
	return MonthOf(r.Date)
}

// Allocated sums the allocation amounts.
func (r Receipt) Allocated() Amount {
	sum := Zero
	for _, a := range r.Allocations {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// AllocatedTo returns the amount allocated to bucket and whether a row exists.
func (r Receipt) AllocatedTo(bucket BucketID) (Amount, bool) {
	for _, a := range r.Allocations {
		if a.Bucket == bucket {
			return a.Amount, true
		}
	}
	return Zero, false
}

// Clone returns a copy that shares no slices with r.
func (r Receipt) Clone() Receipt {
	if r.Allocations != nil {
		allocs := make([]Allocation, len(r.Allocations))
		copy(allocs, r.Allocations)
		r.Allocations = allocs
	}
	return r
}

func (r Receipt) Validate() error {
	if r.ID.IsZero() {
		return fmt.Errorf("%w: receipt id is nil", ErrInvalidID)
	}
	vendor := strings.TrimSpace(r.Vendor)
	if vendor == "" {
		return ErrEmptyVendor
	}
	if len(vendor) > MaxVendorLength {
		return ErrVendorTooLong
	}
	if r.Total.IsNegative() {
		return ErrNegativeTotal
	}
	if r.Date.IsZero() {
		return ErrInvalidDate
	}
	if _, err := LoadTimezone(r.Timezone); err != nil {
		return err
	}
	return ValidateAllocations(r.Allocations)
}

// ValidateAllocations rejects negative amounts, nil buckets and duplicates.
func ValidateAllocations(allocs []Allocation) error {
	seen := make(map[BucketID]struct{}, len(allocs))
	for _, a := range allocs {
		if a.Bucket.IsZero() {
			return fmt.Errorf("%w: allocation bucket is nil", ErrInvalidID)
		}
		if a.Amount.IsNegative() {
			return fmt.Errorf("%w: bucket %s", ErrNegativeAllocation, a.Bucket)
		}
		if _, dup := seen[a.Bucket]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateBucket, a.Bucket)
		}
		seen[a.Bucket] = struct{}{}
	}
	return nil
}

// LoadTimezone resolves an IANA name. The empty name is rejected.
func LoadTimezone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// NewReceipt builds and validates a receipt from input under id.
// The date is converted into the receipt's timezone so its month key
// follows local time. An empty timezone defaults to UTC.
func NewReceipt(id ReceiptID, in ReceiptInput) (Receipt, error) {
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	r := Receipt{
		ID:          id,
		Vendor:      strings.TrimSpace(in.Vendor),
		Total:       in.Total,
		Date:        in.Date,
		Timezone:    tz,
		Allocations: append([]Allocation(nil), in.Allocations...),
		VendorRef:   in.VendorRef,
		Notes:       in.Notes,
		Hash:        in.Hash,
	}
	return r.normalize()
}

// Apply returns a copy of r with the patch applied and re-validated.
func (p ReceiptPatch) Apply(r Receipt) (Receipt, error) {
	out := r.Clone()
	if p.Vendor != nil {
		out.Vendor = strings.TrimSpace(*p.Vendor)
	}
	if p.Total != nil {
		out.Total = *p.Total
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Timezone != nil {
		out.Timezone = strings.TrimSpace(*p.Timezone)
	}
	if p.Allocations != nil {
		out.Allocations = append([]Allocation(nil), (*p.Allocations)...)
	}
	if p.VendorRef != nil {
		out.VendorRef = *p.VendorRef
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	if p.Hash != nil {
		out.Hash = *p.Hash
	}
	return out.normalize()
}

// IsEmpty reports whether the patch changes nothing.
func (p ReceiptPatch) IsEmpty() bool {
	return p.Vendor == nil && p.Total == nil && p.Date == nil && p.Timezone == nil &&
		p.Allocations == nil && p.VendorRef == nil && p.Notes == nil && p.Hash == nil
}

func (r Receipt) normalize() (Receipt, error) {
	if err := r.Validate(); err != nil {
		return Receipt{}, err
	}
	loc, _ := LoadTimezone(r.Timezone)
	r.Date = r.Date.In(loc)
	if r.Allocations == nil {
		r.Allocations = []Allocation{}
	}
	return r, nil
}
