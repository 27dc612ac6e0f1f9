// Package storagetest builds tenant trees on disk for tests.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"taxos/internal/core"
	"taxos/internal/storage"
)

// NewTenant creates an empty tenant tree under a fresh temp dir.
func NewTenant(t testing.TB) (storage.Layout, core.TenantID) {
	t.Helper()
	layout := storage.NewLayout(t.TempDir())
	tenant := core.TenantID(uuid.New())
	require.NoError(t, layout.EnsureTenant(tenant))
	return layout, tenant
}

// AddBucket writes a bucket document and returns its id.
func AddBucket(t testing.TB, layout storage.Layout, tenant core.TenantID, name string) core.BucketID {
	t.Helper()
	id := core.BucketID(uuid.New())
	err := storage.NewBucketStore(layout).SaveBucket(context.Background(), tenant, core.Bucket{ID: id, Name: name})
	require.NoError(t, err)
	return id
}

// RemoveBucket deletes a bucket document, leaving allocations dangling.
func RemoveBucket(t testing.TB, layout storage.Layout, tenant core.TenantID, id core.BucketID) {
	t.Helper()
	require.NoError(t, storage.NewBucketStore(layout).DeleteBucket(context.Background(), tenant, id))
}

// WriteRaw writes content to a path relative to the tenant root.
func WriteRaw(t testing.TB, layout storage.Layout, tenant core.TenantID, rel string, content string) {
	t.Helper()
	path := filepath.Join(layout.TenantDir(tenant), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
