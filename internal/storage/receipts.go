package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"taxos/internal/core"
)

// ReceiptStore reads and writes per-receipt documents, the source of truth.
type ReceiptStore struct {
	layout Layout
}

func NewReceiptStore(layout Layout) *ReceiptStore {
	return &ReceiptStore{layout: layout}
}

// Load returns core.ErrNotFound for a missing document and
// core.ErrCorruptState for one that cannot be decoded.
func (s *ReceiptStore) Load(_ context.Context, tenant core.TenantID, id core.ReceiptID) (core.Receipt, error) {
	data, err := os.ReadFile(s.layout.ReceiptStateFile(tenant, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Receipt{}, fmt.Errorf("receipt %s: %w", id, core.ErrNotFound)
		}
		return core.Receipt{}, fmt.Errorf("read receipt %s: %w", id, err)
	}
	return decodeReceipt(data, id)
}

// Save writes the document atomically, replacing any previous version.
func (s *ReceiptStore) Save(_ context.Context, tenant core.TenantID, r core.Receipt) error {
	data, err := encodeReceipt(r)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.layout.ReceiptStateFile(tenant, r.ID), data, 0o644); err != nil {
		return fmt.Errorf("write receipt %s: %w", r.ID, err)
	}
	return nil
}

// Create writes a new document. It fails with core.ErrCollision when a
// non-empty document already occupies the id.
func (s *ReceiptStore) Create(ctx context.Context, tenant core.TenantID, r core.Receipt) error {
	info, err := os.Stat(s.layout.ReceiptStateFile(tenant, r.ID))
	switch {
	case err == nil && info.Size() > 0:
		return fmt.Errorf("receipt %s: %w", r.ID, core.ErrCollision)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat receipt %s: %w", r.ID, err)
	}
	return s.Save(ctx, tenant, r)
}

// Delete removes the receipt directory. It reports false when nothing was
// there.
func (s *ReceiptStore) Delete(_ context.Context, tenant core.TenantID, id core.ReceiptID) (bool, error) {
	dir := s.layout.ReceiptDir(tenant, id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat receipt %s: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove receipt %s: %w", id, err)
	}
	return true, nil
}

// IDs enumerates receipt directories in id order. Entries whose name is
// not a receipt id (index.json, temp files) are ignored.
func (s *ReceiptStore) IDs(_ context.Context, tenant core.TenantID) ([]core.ReceiptID, error) {
	entries, err := os.ReadDir(s.layout.ReceiptsDir(tenant))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list receipts: %w", err)
	}

	ids := make([]core.ReceiptID, 0, len(entries))
	seen := make(map[core.ReceiptID]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := core.ParseReceiptID(e.Name())
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.SortFunc(ids, core.ReceiptID.Compare)
	return ids, nil
}
