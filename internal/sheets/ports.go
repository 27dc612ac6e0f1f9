package sheets

import (
	"context"

	"taxos/internal/core"
)

// Ports for outbound adapters.
type (
	// DashboardWriter exports a computed dashboard for one tenant.
	DashboardWriter interface {
		// WriteDashboard appends the dashboard rows and returns a reference
		// to where they landed.
		WriteDashboard(ctx context.Context, tenant core.TenantID, d core.Dashboard) (ref string, err error)
	}
)
