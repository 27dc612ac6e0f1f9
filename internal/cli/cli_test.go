package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxos/internal/config"
	"taxos/internal/core"
	"taxos/internal/services"
	"taxos/internal/storage"
	"taxos/internal/storage/storagetest"
)

type cliFixture struct {
	cfg    *config.Config
	tenant core.TenantID
	bucket core.BucketID
	acme   core.Receipt
}

// newCLIFixture seeds a tenant with one fully allocated receipt in March
// and one untouched receipt in April.
func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	layout, tenant := storagetest.NewTenant(t)
	bucket := storagetest.AddBucket(t, layout, tenant, "Groceries")
	svc := services.NewReceiptService(layout, storage.NewBucketStore(layout), services.DefaultReceiptServiceConfig())

	ctx := context.Background()
	_, err := svc.Create(ctx, tenant, core.ReceiptInput{
		Vendor:      "Corner Shop",
		Total:       core.MustAmount("25"),
		Date:        time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Timezone:    "UTC",
		Allocations: []core.Allocation{{Bucket: bucket, Amount: core.MustAmount("25")}},
	})
	require.NoError(t, err)
	acme, err := svc.Create(ctx, tenant, core.ReceiptInput{
		Vendor:   "Acme",
		Total:    core.MustAmount("100"),
		Date:     time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC),
		Timezone: "UTC",
	})
	require.NoError(t, err)

	cfg := config.Load()
	cfg.DataDir = layout.Root()
	cfg.ExportCurrency = "EUR"
	return &cliFixture{cfg: cfg, tenant: tenant, bucket: bucket, acme: acme}
}

func (f *cliFixture) run(t *testing.T, args ...string) (subcommands.ExitStatus, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	status := run(context.Background(), f.cfg, args, &out, &errOut)
	return status, out.String(), errOut.String()
}

func TestCommands_Names(t *testing.T) {
	var names []string
	for _, c := range Commands(&config.Config{}, &bytes.Buffer{}, &bytes.Buffer{}) {
		names = append(names, c.Name())
		assert.NotEmpty(t, c.Synopsis())
		assert.NotEmpty(t, c.Usage())
	}
	assert.Equal(t, []string{"rebuild", "list", "dashboard", "vendors", "sheets-auth"}, names)
}

func TestRun(t *testing.T) {
	f := newCLIFixture(t)
	tenant := f.tenant.String()

	tests := []struct {
		name        string
		args        []string
		wantStatus  subcommands.ExitStatus
		contains    []string
		notContains []string
	}{
		{
			name:       "rebuild",
			args:       []string{"rebuild", "-tenant", tenant},
			wantStatus: subcommands.ExitSuccess,
			contains:   []string{"2 receipts in 2 months"},
		},
		{
			name:       "list all",
			args:       []string{"list", "-tenant", tenant},
			wantStatus: subcommands.ExitSuccess,
			contains:   []string{"DATE", "2025-03-10", "Corner Shop", "2025-04-02", "Acme", "€100.00"},
		},
		{
			name:        "list one month",
			args:        []string{"list", "-tenant", tenant, "-month", "2025-04"},
			wantStatus:  subcommands.ExitSuccess,
			contains:    []string{"Acme", f.acme.ID.String()},
			notContains: []string{"Corner Shop"},
		},
		{
			name:        "list unallocated",
			args:        []string{"list", "-tenant", tenant, "-unallocated"},
			wantStatus:  subcommands.ExitSuccess,
			contains:    []string{"Acme"},
			notContains: []string{"Corner Shop"},
		},
		{
			name:        "list by bucket",
			args:        []string{"list", "-tenant", tenant, "-bucket", f.bucket.String()},
			wantStatus:  subcommands.ExitSuccess,
			contains:    []string{"Corner Shop"},
			notContains: []string{"Acme"},
		},
		{
			name:       "dashboard",
			args:       []string{"dashboard", "-tenant", tenant, "-month", "2025-03", "-month", "2025-04"},
			wantStatus: subcommands.ExitSuccess,
			contains:   []string{"Months: 2025-03, 2025-04", "Groceries", "€25.00", "€100.00", "Vendors: Acme, Corner Shop"},
		},
		{
			name:       "dashboard in dollars",
			args:       []string{"dashboard", "-tenant", tenant, "-currency", "USD"},
			wantStatus: subcommands.ExitSuccess,
			contains:   []string{"$25.00"},
		},
		{
			name:       "vendors",
			args:       []string{"vendors", "-tenant", tenant},
			wantStatus: subcommands.ExitSuccess,
			contains:   []string{"Acme\nCorner Shop\n"},
		},
		{
			name:       "missing tenant",
			args:       []string{"vendors"},
			wantStatus: subcommands.ExitFailure,
		},
		{
			name:       "malformed tenant",
			args:       []string{"vendors", "-tenant", "acme"},
			wantStatus: subcommands.ExitFailure,
		},
		{
			name:       "bad month flag",
			args:       []string{"list", "-tenant", tenant, "-month", "2025-13"},
			wantStatus: subcommands.ExitUsageError,
		},
		{
			name:       "bad bucket",
			args:       []string{"list", "-tenant", tenant, "-bucket", "groceries"},
			wantStatus: subcommands.ExitFailure,
		},
		{
			name:       "unknown command",
			args:       []string{"frobnicate"},
			wantStatus: subcommands.ExitUsageError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out, _ := f.run(t, tt.args...)
			require.Equal(t, tt.wantStatus, status, out)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestRun_FailureIsReported(t *testing.T) {
	f := newCLIFixture(t)

	status, _, errOut := f.run(t, "vendors", "-tenant", "0190f5a4-0000-7000-8000-0000000000ff")
	assert.Equal(t, subcommands.ExitFailure, status)
	assert.Contains(t, errOut, "not found")
}

func TestMonthsFlag(t *testing.T) {
	var m monthsFlag
	require.NoError(t, m.Set("2025-03"))
	require.NoError(t, m.Set("2025-04"))
	assert.Error(t, m.Set("March"))
	assert.Equal(t, "2025-03,2025-04", m.String())
}
