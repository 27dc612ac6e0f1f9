// Package http exposes the receipt service as a JSON API.
//
// This file turns request headers, query strings and bodies into the
// service's typed inputs. Every parse failure wraps core.ErrValidation so
// the error mapper answers 400.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taxos/internal/core"
)

const (
	// HeaderTenantID selects the tenant a request operates on
	HeaderTenantID = "X-Tenant-ID"

	maxBodyBytes = 1 << 20
)

// dateLayouts are tried in order for the "date" field. Date-only and
// local layouts are read in the receipt's timezone.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// allocationRequest is one {bucket, amount} entry of a request body.
type allocationRequest struct {
	Bucket string      `json:"bucket"`
	Amount core.Amount `json:"amount"`
}

// receiptRequest is the body of POST /api/receipts.
type receiptRequest struct {
	Vendor      string              `json:"vendor"`
	Total       core.Amount         `json:"total"`
	Date        string              `json:"date"`
	Timezone    string              `json:"timezone"`
	Allocations []allocationRequest `json:"allocations"`
	VendorRef   string              `json:"vendor_ref"`
	Notes       string              `json:"notes"`
	Hash        string              `json:"hash"`
}

// patchRequest is the body of PATCH /api/receipts/{id}. Absent fields are
// left unchanged.
type patchRequest struct {
	Vendor      *string              `json:"vendor"`
	Total       *core.Amount         `json:"total"`
	Date        *string              `json:"date"`
	Timezone    *string              `json:"timezone"`
	Allocations *[]allocationRequest `json:"allocations"`
	VendorRef   *string              `json:"vendor_ref"`
	Notes       *string              `json:"notes"`
	Hash        *string              `json:"hash"`
}

// ParseTenant reads the tenant from the X-Tenant-ID header.
func ParseTenant(r *http.Request) (core.TenantID, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderTenantID))
	if raw == "" {
		return core.TenantID{}, fmt.Errorf("%w: missing %s header", core.ErrValidation, HeaderTenantID)
	}
	return core.ParseTenantID(raw)
}

// ParseMonths reads every repeated "month" query parameter.
func ParseMonths(query url.Values) ([]core.MonthKey, error) {
	return core.ParseMonthKeys(query["month"])
}

// ParseListFilter reads month, bucket and unallocated query parameters.
func ParseListFilter(query url.Values) (core.ListFilter, error) {
	months, err := ParseMonths(query)
	if err != nil {
		return core.ListFilter{}, err
	}
	filter := core.ListFilter{Months: months}

	if raw := strings.TrimSpace(query.Get("bucket")); raw != "" {
		bucket, err := core.ParseBucketID(raw)
		if err != nil {
			return core.ListFilter{}, err
		}
		filter.Bucket = &bucket
	}
	if raw := strings.TrimSpace(query.Get("unallocated")); raw != "" {
		only, err := strconv.ParseBool(raw)
		if err != nil {
			return core.ListFilter{}, fmt.Errorf("%w: unallocated must be a boolean", core.ErrValidation)
		}
		filter.UnallocatedOnly = only
	}
	return filter, nil
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: malformed body: %v", core.ErrValidation, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after body", core.ErrValidation)
	}
	return nil
}

// ParseReceiptInput decodes a create body.
func ParseReceiptInput(r *http.Request) (core.ReceiptInput, error) {
	var req receiptRequest
	if err := decodeJSON(r, &req); err != nil {
		return core.ReceiptInput{}, err
	}
	date, err := parseDate(req.Date, req.Timezone)
	if err != nil {
		return core.ReceiptInput{}, err
	}
	allocs, err := toAllocations(req.Allocations)
	if err != nil {
		return core.ReceiptInput{}, err
	}
	return core.ReceiptInput{
		Vendor:      sanitizeInput(req.Vendor),
		Total:       req.Total,
		Date:        date,
		Timezone:    strings.TrimSpace(req.Timezone),
		Allocations: allocs,
		VendorRef:   sanitizeInput(req.VendorRef),
		Notes:       sanitizeInput(req.Notes),
		Hash:        strings.TrimSpace(req.Hash),
	}, nil
}

// ParseReceiptPatch decodes an update body. A date-only value is read in
// the patched timezone when one is given, else in UTC.
func ParseReceiptPatch(r *http.Request) (core.ReceiptPatch, error) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		return core.ReceiptPatch{}, err
	}

	patch := core.ReceiptPatch{
		Total:    req.Total,
		Timezone: req.Timezone,
		Hash:     req.Hash,
	}
	if req.Vendor != nil {
		v := sanitizeInput(*req.Vendor)
		patch.Vendor = &v
	}
	if req.VendorRef != nil {
		v := sanitizeInput(*req.VendorRef)
		patch.VendorRef = &v
	}
	if req.Notes != nil {
		v := sanitizeInput(*req.Notes)
		patch.Notes = &v
	}
	if req.Date != nil {
		tz := ""
		if req.Timezone != nil {
			tz = *req.Timezone
		}
		date, err := parseDate(*req.Date, tz)
		if err != nil {
			return core.ReceiptPatch{}, err
		}
		patch.Date = &date
	}
	if req.Allocations != nil {
		allocs, err := toAllocations(*req.Allocations)
		if err != nil {
			return core.ReceiptPatch{}, err
		}
		patch.Allocations = &allocs
	}
	if patch.IsEmpty() {
		return core.ReceiptPatch{}, fmt.Errorf("%w: empty patch", core.ErrValidation)
	}
	return patch, nil
}

// ParseReceiptID reads the {id} path segment.
func ParseReceiptID(r *http.Request) (core.ReceiptID, error) {
	return core.ParseReceiptID(r.PathValue("id"))
}

func toAllocations(in []allocationRequest) ([]core.Allocation, error) {
	out := make([]core.Allocation, 0, len(in))
	for _, a := range in {
		bucket, err := core.ParseBucketID(a.Bucket)
		if err != nil {
			return nil, fmt.Errorf("allocation bucket: %w", err)
		}
		out = append(out, core.Allocation{Bucket: bucket, Amount: a.Amount})
	}
	return out, nil
}

// parseDate accepts RFC 3339 with an offset, or a local date/time that is
// placed in tz (UTC when tz is empty).
func parseDate(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, core.ErrInvalidDate
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	loc := time.UTC
	if strings.TrimSpace(tz) != "" {
		l, err := core.LoadTimezone(tz)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	for _, layout := range dateLayouts[1:] {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", core.ErrValidation, value)
}
