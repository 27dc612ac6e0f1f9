package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxos/internal/core"
	ports "taxos/internal/sheets"
)

var _ ports.DashboardWriter = (*Store)(nil)

// Store keeps exported dashboard rows in memory, per tenant, for tests and
// local runs without a spreadsheet.
type Store struct {
	mu       sync.Mutex
	currency string
	now      func() time.Time
	rows     map[core.TenantID][][]any
	writes   int
}

func New(currency string) *Store {
	return &Store{
		currency: currency,
		now:      time.Now,
		rows:     make(map[core.TenantID][][]any),
	}
}

// WriteDashboard stores the rows and returns a synthetic reference.
func (s *Store) WriteDashboard(_ context.Context, tenant core.TenantID, d core.Dashboard) (string, error) {
	rows := ports.DashboardRows(tenant, d, s.currency, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tenant] = append(s.rows[tenant], rows...)
	s.writes++
	return fmt.Sprintf("mem:%d", s.writes), nil
}

// Rows returns a copy of every row exported for tenant.
func (s *Store) Rows(tenant core.TenantID) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows[tenant]...)
}

// Writes counts WriteDashboard calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
