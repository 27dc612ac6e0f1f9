package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"taxos/internal/core"
)

const (
	receiptsDirName = "receipts"
	bucketsDirName  = "buckets"
	stateFileName   = "state.json"
	indexFileName   = "index.json"
)

// Layout maps tenants, receipts and buckets onto the data directory:
//
//	{root}/{tenant}/receipts/{receipt}/state.json
//	{root}/{tenant}/receipts/index.json
//	{root}/{tenant}/buckets/{bucket}/state.json
//
// Directories are named with the canonical UUID form. Trees written with
// the undashed hex form are still found.
type Layout struct {
	root string
}

func NewLayout(root string) Layout {
	return Layout{root: filepath.Clean(root)}
}

func (l Layout) Root() string { return l.root }

// TenantDir returns the tenant root.
func (l Layout) TenantDir(t core.TenantID) string {
	return resolveDir(l.root, t.String(), t.Hex())
}

// RequireTenant returns core.ErrNotFound when the tenant root is missing.
func (l Layout) RequireTenant(t core.TenantID) error {
	info, err := os.Stat(l.TenantDir(t))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("tenant %s: %w", t, core.ErrNotFound)
		}
		return fmt.Errorf("stat tenant %s: %w", t, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("tenant %s: %w", t, core.ErrNotFound)
	}
	return nil
}

// EnsureTenant creates the tenant root and its receipts and buckets dirs.
func (l Layout) EnsureTenant(t core.TenantID) error {
	for _, dir := range []string{l.ReceiptsDir(t), l.BucketsDir(t)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create tenant dir: %w", err)
		}
	}
	return nil
}

func (l Layout) ReceiptsDir(t core.TenantID) string {
	return filepath.Join(l.TenantDir(t), receiptsDirName)
}

func (l Layout) ReceiptDir(t core.TenantID, id core.ReceiptID) string {
	return resolveDir(l.ReceiptsDir(t), id.String(), id.Hex())
}

func (l Layout) ReceiptStateFile(t core.TenantID, id core.ReceiptID) string {
	return filepath.Join(l.ReceiptDir(t, id), stateFileName)
}

func (l Layout) IndexFile(t core.TenantID) string {
	return filepath.Join(l.ReceiptsDir(t), indexFileName)
}

func (l Layout) BucketsDir(t core.TenantID) string {
	return filepath.Join(l.TenantDir(t), bucketsDirName)
}

func (l Layout) BucketStateFile(t core.TenantID, id core.BucketID) string {
	return filepath.Join(resolveDir(l.BucketsDir(t), id.String(), id.Hex()), stateFileName)
}

// resolveDir prefers the canonical name and falls back to the legacy one
// only when that one exists on disk.
func resolveDir(parent, canonical, legacy string) string {
	path := filepath.Join(parent, canonical)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	legacyPath := filepath.Join(parent, legacy)
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath
	}
	return path
}
