package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taxos/internal/core"
)

// receiptDocument is the on-disk shape of a receipt. Decoding is lenient:
// legacy "guid" keys, string amounts and [bucket, amount] pairs are
// accepted, and malformed allocation entries are dropped.
type receiptDocument struct {
	ID          string            `json:"id"`
	GUID        string            `json:"guid"`
	Vendor      string            `json:"vendor"`
	Total       core.Amount       `json:"total"`
	Date        string            `json:"date"`
	Timezone    string            `json:"timezone"`
	Allocations []json.RawMessage `json:"allocations"`
	VendorRef   string            `json:"vendor_ref"`
	Notes       string            `json:"notes"`
	Hash        string            `json:"hash"`
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func encodeReceipt(r core.Receipt) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal receipt %s: %w", r.ID, err)
	}
	return append(data, '\n'), nil
}

// decodeReceipt parses a state.json for the receipt stored under dirID.
func decodeReceipt(data []byte, dirID core.ReceiptID) (core.Receipt, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return core.Receipt{}, fmt.Errorf("%w: receipt %s: empty document", core.ErrCorruptState, dirID)
	}

	var doc receiptDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.Receipt{}, fmt.Errorf("%w: receipt %s: %v", core.ErrCorruptState, dirID, err)
	}

	rawID := doc.ID
	if rawID == "" {
		rawID = doc.GUID
	}
	if rawID != "" {
		id, err := core.ParseReceiptID(rawID)
		if err != nil || id != dirID {
			return core.Receipt{}, fmt.Errorf("%w: receipt %s: document id %q does not match", core.ErrCorruptState, dirID, rawID)
		}
	}

	// documents without a usable timezone are read as UTC, like new receipts
	loc, err := core.LoadTimezone(doc.Timezone)
	if err != nil {
		loc, doc.Timezone = time.UTC, "UTC"
	}
	date, err := parseDocumentDate(doc.Date, loc)
	if err != nil {
		return core.Receipt{}, fmt.Errorf("%w: receipt %s: %v", core.ErrCorruptState, dirID, err)
	}

	allocs := make([]core.Allocation, 0, len(doc.Allocations))
	for _, raw := range doc.Allocations {
		if a, ok := decodeAllocation(raw); ok {
			allocs = append(allocs, a)
		}
	}

	return core.Receipt{
		ID:          dirID,
		Vendor:      doc.Vendor,
		Total:       doc.Total,
		Date:        date,
		Timezone:    doc.Timezone,
		Allocations: allocs,
		VendorRef:   doc.VendorRef,
		Notes:       doc.Notes,
		Hash:        doc.Hash,
	}, nil
}

func parseDocumentDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// decodeAllocation accepts {"bucket": id, "amount": n}, the nested
// {"bucket": {"guid": id}, ...} form and the [id, amount] pair.
func decodeAllocation(raw json.RawMessage) (core.Allocation, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return core.Allocation{}, false
	}

	var bucketRaw json.RawMessage
	var amount core.Amount

	switch raw[0] {
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return core.Allocation{}, false
		}
		if err := json.Unmarshal(pair[1], &amount); err != nil {
			return core.Allocation{}, false
		}
		bucketRaw = pair[0]
	case '{':
		var obj struct {
			Bucket json.RawMessage `json:"bucket"`
			Amount core.Amount     `json:"amount"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return core.Allocation{}, false
		}
		bucketRaw, amount = obj.Bucket, obj.Amount
	default:
		return core.Allocation{}, false
	}

	bucket, ok := decodeBucketRef(bucketRaw)
	if !ok {
		return core.Allocation{}, false
	}
	return core.Allocation{Bucket: bucket, Amount: amount}, true
}

func decodeBucketRef(raw json.RawMessage) (core.BucketID, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var ref struct {
			GUID string `json:"guid"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return core.BucketID{}, false
		}
		s = ref.GUID
		if s == "" {
			s = ref.ID
		}
	}
	id, err := core.ParseBucketID(s)
	if err != nil {
		return core.BucketID{}, false
	}
	return id, true
}
