package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"taxos/internal/core"
)

// BucketStore reads bucket documents. Bucket CRUD lives elsewhere; this
// side only resolves references.
type BucketStore struct {
	layout Layout
}

func NewBucketStore(layout Layout) *BucketStore {
	return &BucketStore{layout: layout}
}

type bucketDocument struct {
	ID   string `json:"id"`
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// GetBucket returns core.ErrNotFound when the bucket has no document.
func (s *BucketStore) GetBucket(_ context.Context, tenant core.TenantID, id core.BucketID) (core.Bucket, error) {
	data, err := os.ReadFile(s.layout.BucketStateFile(tenant, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Bucket{}, fmt.Errorf("bucket %s: %w", id, core.ErrNotFound)
		}
		return core.Bucket{}, fmt.Errorf("read bucket %s: %w", id, err)
	}

	var doc bucketDocument
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return core.Bucket{}, fmt.Errorf("%w: bucket %s: %v", core.ErrCorruptState, id, err)
		}
	}
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = id.String()
	}
	return core.Bucket{ID: id, Name: name}, nil
}

// ListBuckets returns every readable bucket ordered by name.
func (s *BucketStore) ListBuckets(ctx context.Context, tenant core.TenantID) ([]core.Bucket, error) {
	entries, err := os.ReadDir(s.layout.BucketsDir(tenant))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	buckets := make([]core.Bucket, 0, len(entries))
	seen := make(map[core.BucketID]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := core.ParseBucketID(e.Name())
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		b, err := s.GetBucket(ctx, tenant, id)
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
		buckets = append(buckets, b)
	}

	slices.SortFunc(buckets, func(a, b core.Bucket) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return buckets, nil
}

// SaveBucket writes a bucket document. It exists for fixtures and tooling.
func (s *BucketStore) SaveBucket(_ context.Context, tenant core.TenantID, b core.Bucket) error {
	data, err := json.MarshalIndent(bucketDocument{ID: b.ID.String(), Name: b.Name}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bucket %s: %w", b.ID, err)
	}
	if err := writeFileAtomic(s.layout.BucketStateFile(tenant, b.ID), data, 0o644); err != nil {
		return fmt.Errorf("write bucket %s: %w", b.ID, err)
	}
	return nil
}

// DeleteBucket removes a bucket document. Allocations referring to it are
// left untouched.
func (s *BucketStore) DeleteBucket(_ context.Context, tenant core.TenantID, id core.BucketID) error {
	path := s.layout.BucketStateFile(tenant, id)
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("remove bucket %s: %w", id, err)
	}
	return nil
}
