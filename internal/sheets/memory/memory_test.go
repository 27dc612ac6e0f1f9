package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxos/internal/core"
	ports "taxos/internal/sheets"
)

func TestMemoryStoreWriteDashboard(t *testing.T) {
	s := New("USD")
	tenant := core.TenantID(uuid.New())
	other := core.TenantID(uuid.New())

	d := core.Dashboard{
		Months:  []core.MonthKey{"2025-05"},
		Buckets: []core.BucketSummary{{Name: "Travel", Total: core.MustAmount("12.5"), Count: 1}},
	}

	ref, err := s.WriteDashboard(context.Background(), tenant, d)
	require.NoError(t, err)
	assert.Equal(t, "mem:1", ref)

	ref, err = s.WriteDashboard(context.Background(), tenant, d)
	require.NoError(t, err)
	assert.Equal(t, "mem:2", ref)

	rows := s.Rows(tenant)
	require.Len(t, rows, 2)
	assert.Equal(t, ports.KindBucket, rows[0][3])
	assert.Equal(t, "$12.50", rows[0][5])
	assert.Empty(t, s.Rows(other))
	assert.Equal(t, 2, s.Writes())
}
