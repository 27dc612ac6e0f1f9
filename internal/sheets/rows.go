package sheets

import (
	"strings"
	"time"

	"taxos/internal/core"
)

// Row kinds written in the fourth column.
const (
	KindBucket      = "bucket"
	KindUnallocated = "unallocated"
)

// Header is the column layout of an exported dashboard sheet.
var Header = []any{"Exported At", "Tenant", "Months", "Kind", "Name", "Amount", "Detail"}

// DashboardRows flattens d into sheet rows: one per bucket summary and one
// per unallocated receipt. Amounts are formatted in currency.
func DashboardRows(tenant core.TenantID, d core.Dashboard, currency string, at time.Time) [][]any {
	stamp := at.UTC().Format(time.RFC3339)
	months := monthsLabel(d.Months)

	rows := make([][]any, 0, len(d.Buckets)+len(d.Unallocated))
	for _, b := range d.Buckets {
		rows = append(rows, []any{stamp, tenant.String(), months, KindBucket, b.Name, b.Total.Display(currency), b.Count})
	}
	for _, u := range d.Unallocated {
		rows = append(rows, []any{
			stamp, tenant.String(), string(u.Month), KindUnallocated,
			u.Receipt.Vendor, u.Amount.Display(currency), u.Receipt.ID.String(),
		})
	}
	return rows
}

func monthsLabel(months []core.MonthKey) string {
	parts := make([]string, len(months))
	for i, m := range months {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}
