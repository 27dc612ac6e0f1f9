// Package cli implements the taxosctl admin commands. They operate
// directly on the data directory, without the HTTP server. sheets-auth
// obtains the OAuth token for dashboard export.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"taxos/internal/config"
	"taxos/internal/core"
	"taxos/internal/log"
	"taxos/internal/services"
	"taxos/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Commands returns every admin command, writing results to out and
// diagnostics to errOut.
func Commands(cfg *config.Config, out, errOut io.Writer) []subcommands.Command {
	base := func() common { return common{cfg: cfg, out: out, errOut: errOut} }
	return []subcommands.Command{
		&rebuildCmd{common: base()},
		&listCmd{common: base()},
		&dashboardCmd{common: base()},
		&vendorsCmd{common: base()},
		&sheetsAuthCmd{cfg: cfg, out: out, errOut: errOut},
	}
}

// common carries the flags and plumbing shared by every command.
type common struct {
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	dataDir string
	tenant  string
	verbose bool
}

func (c *common) setCommonFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataDir, "data", c.cfg.DataDir, "Root directory holding one folder per tenant.")
	f.StringVar(&c.tenant, "tenant", "", "Tenant id (UUID). Required.")
	f.BoolVar(&c.verbose, "v", false, "Log service activity to stderr.")
}

// service parses -tenant and opens the receipt service on -data. Caching
// is off since each invocation reads once.
func (c *common) service() (*services.ReceiptService, core.TenantID, error) {
	if strings.TrimSpace(c.tenant) == "" {
		return nil, core.TenantID{}, fmt.Errorf("-tenant is required")
	}
	tenant, err := core.ParseTenantID(c.tenant)
	if err != nil {
		return nil, core.TenantID{}, err
	}

	logCfg := c.cfg.LoggerConfig(log.ComponentCLI)
	logCfg.Level = slog.LevelWarn
	if c.verbose {
		logCfg.Level = slog.LevelDebug
	}
	logCfg.Output = c.errOut

	layout := storage.NewLayout(c.dataDir)
	svc := services.NewReceiptService(layout, storage.NewBucketStore(layout), services.ReceiptServiceConfig{
		LoadConcurrency: c.cfg.LoadConcurrency,
	}, services.WithLogger(log.New(logCfg)))
	return svc, tenant, nil
}

// fail reports err and returns the failure status.
func (c *common) fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(c.errOut, err)
	return subcommands.ExitFailure
}

// monthsFlag collects repeated -month values.
type monthsFlag []core.MonthKey

func (m *monthsFlag) String() string {
	parts := make([]string, len(*m))
	for i, v := range *m {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func (m *monthsFlag) Set(v string) error {
	month, err := core.ParseMonthKey(v)
	if err != nil {
		return err
	}
	*m = append(*m, month)
	return nil
}

// Execute runs the commander over args, for the taxosctl binary.
func Execute(ctx context.Context, cfg *config.Config, args []string) subcommands.ExitStatus {
	return run(ctx, cfg, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, cfg *config.Config, args []string, out, errOut io.Writer) subcommands.ExitStatus {
	fs := flag.NewFlagSet("taxosctl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	commander := subcommands.NewCommander(fs, "taxosctl")
	commander.Output = out
	commander.Error = errOut
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, c := range Commands(cfg, out, errOut) {
		commander.Register(c, "admin")
	}
	if err := fs.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}
	return commander.Execute(ctx)
}
