package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"taxos/internal/core"
)

type rebuildCmd struct {
	common
}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "recreate a tenant's month index from its receipt documents" }
func (*rebuildCmd) Usage() string {
	return `taxosctl rebuild -tenant <id> [-data <dir>]

  Discards receipts/index.json and rebuilds it by reading every receipt
  document. Unreadable documents are skipped and reported in the log.
`
}

func (c *rebuildCmd) SetFlags(f *flag.FlagSet) { c.setCommonFlags(f) }

func (c *rebuildCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, tenant, err := c.service()
	if err != nil {
		return c.fail(err)
	}
	repo, err := svc.Rebuild(ctx, tenant)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.out, "rebuilt index for %s: %d receipts in %d months\n", tenant, repo.Len(), len(repo.Months()))
	return subcommands.ExitSuccess
}

type listCmd struct {
	common
	months      monthsFlag
	bucket      string
	unallocated bool
	currency    string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list a tenant's receipts" }
func (*listCmd) Usage() string {
	return `taxosctl list -tenant <id> [-month YYYY-MM]... [-bucket <id>] [-unallocated]

  Prints receipts ordered by date, optionally restricted to months, to
  receipts allocated to a bucket, or to receipts with an unallocated
  remainder.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	c.setCommonFlags(f)
	f.Var(&c.months, "month", "Month to include (YYYY-MM). Repeatable; all months when omitted.")
	f.StringVar(&c.bucket, "bucket", "", "Only receipts with an allocation to this bucket id.")
	f.BoolVar(&c.unallocated, "unallocated", false, "Only receipts with an unallocated remainder.")
	f.StringVar(&c.currency, "currency", c.cfg.ExportCurrency, "Currency used to display amounts.")
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, tenant, err := c.service()
	if err != nil {
		return c.fail(err)
	}
	filter := core.ListFilter{Months: c.months, UnallocatedOnly: c.unallocated}
	if c.bucket != "" {
		bucket, err := core.ParseBucketID(c.bucket)
		if err != nil {
			return c.fail(err)
		}
		filter.Bucket = &bucket
	}

	recs, err := svc.List(ctx, tenant, filter)
	if err != nil {
		return c.fail(err)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tVENDOR\tTOTAL\tUNALLOCATED\tID")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Date.Format("2006-01-02"), r.Vendor,
			r.Total.Display(c.currency), core.UnallocatedAmount(r).Display(c.currency), r.ID)
	}
	if err := w.Flush(); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

type dashboardCmd struct {
	common
	months   monthsFlag
	currency string
}

func (*dashboardCmd) Name() string     { return "dashboard" }
func (*dashboardCmd) Synopsis() string { return "summarize allocations per bucket" }
func (*dashboardCmd) Usage() string {
	return `taxosctl dashboard -tenant <id> [-month YYYY-MM]... [-currency EUR]

  Prints the total allocated to every bucket, the receipts still carrying
  an unallocated remainder and the vendor names seen in the months.
`
}

func (c *dashboardCmd) SetFlags(f *flag.FlagSet) {
	c.setCommonFlags(f)
	f.Var(&c.months, "month", "Month to include (YYYY-MM). Repeatable; all months when omitted.")
	f.StringVar(&c.currency, "currency", c.cfg.ExportCurrency, "Currency used to display amounts.")
}

func (c *dashboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, tenant, err := c.service()
	if err != nil {
		return c.fail(err)
	}
	d, err := svc.Dashboard(ctx, tenant, c.months)
	if err != nil {
		return c.fail(err)
	}

	labels := make([]string, len(d.Months))
	for i, m := range d.Months {
		labels[i] = string(m)
	}
	fmt.Fprintf(c.out, "Months: %s\n\n", strings.Join(labels, ", "))

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tTOTAL\tRECEIPTS")
	for _, b := range d.Buckets {
		fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, b.Total.Display(c.currency), b.Count)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "UNALLOCATED\tAMOUNT\tMONTH\tID")
	for _, u := range d.Unallocated {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Receipt.Vendor, u.Amount.Display(c.currency), u.Month, u.Receipt.ID)
	}
	if err := w.Flush(); err != nil {
		return c.fail(err)
	}

	if len(d.VendorNames) > 0 {
		fmt.Fprintf(c.out, "\nVendors: %s\n", strings.Join(d.VendorNames, ", "))
	}
	return subcommands.ExitSuccess
}

type vendorsCmd struct {
	common
}

func (*vendorsCmd) Name() string     { return "vendors" }
func (*vendorsCmd) Synopsis() string { return "print the distinct vendor names of a tenant" }
func (*vendorsCmd) Usage() string {
	return `taxosctl vendors -tenant <id>
`
}

func (c *vendorsCmd) SetFlags(f *flag.FlagSet) { c.setCommonFlags(f) }

func (c *vendorsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, tenant, err := c.service()
	if err != nil {
		return c.fail(err)
	}
	names, err := svc.Vendors(ctx, tenant)
	if err != nil {
		return c.fail(err)
	}
	for _, n := range names {
		fmt.Fprintln(c.out, n)
	}
	return subcommands.ExitSuccess
}
