package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"taxos/internal/core"
	"taxos/internal/log"
	ports "taxos/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Options configures a Sheets client.
type Options struct {
	SpreadsheetID string
	// SheetName is the base tab name; the dashboard's year is prefixed,
	// e.g. "2025 Dashboard".
	SheetName       string
	Currency        string
	CredentialsJSON string
	CredentialsFile string

	// OAuth user credentials, used when no service account is set. The
	// token file is produced by taxosctl sheets-auth.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	currency      string
	logger        *log.Logger
	now           func() time.Time
}

// Ensure interface conformance
var _ ports.DashboardWriter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account, or
// with a stored OAuth user token when no service account is configured.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, opts, logger), nil
}

func newClient(svc *gsheet.Service, opts Options, logger *log.Logger) *Client {
	base := strings.TrimSpace(opts.SheetName)
	if base == "" {
		base = "Dashboard"
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "EUR"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		sheetBase:     base,
		currency:      currency,
		logger:        logger.WithComponent(log.ComponentSheets),
		now:           time.Now,
	}
}

// newSheetsService initializes a Sheets Service from the configured credentials.
func newSheetsService(ctx context.Context, opts Options, logger *log.Logger) (*gsheet.Service, error) {
	var auth goption.ClientOption

	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		logger.DebugContext(ctx, "Using inline JSON credentials")
		auth = goption.WithCredentialsJSON([]byte(opts.CredentialsJSON))
	case strings.TrimSpace(opts.CredentialsFile) != "":
		logger.DebugContext(ctx, "Reading credentials from file", "path", opts.CredentialsFile)
		credentialsJSON, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		auth = goption.WithCredentialsJSON(credentialsJSON)
	case strings.TrimSpace(opts.OAuthClientJSON) != "" || strings.TrimSpace(opts.OAuthClientFile) != "":
		logger.DebugContext(ctx, "Using OAuth user token", "path", opts.OAuthTokenFile)
		cfg, err := OAuthConfig(opts.OAuthClientJSON, opts.OAuthClientFile)
		if err != nil {
			return nil, err
		}
		tok, err := ReadToken(opts.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		auth = goption.WithTokenSource(cfg.TokenSource(ctx, tok))
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx, auth, goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteDashboard appends the dashboard rows to the year tab of the first
// month and returns the updated range.
func (c *Client) WriteDashboard(ctx context.Context, tenant core.TenantID, d core.Dashboard) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rows := ports.DashboardRows(tenant, d, c.currency, c.now())
	if len(rows) == 0 {
		return "", nil
	}

	sheet := yearPrefixedName(c.sheetBase, dashboardYear(d, c.now()))
	rng := fmt.Sprintf("%s!A:G", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append dashboard to %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Dashboard exported",
		log.FieldTenantID, tenant.String(), log.FieldSheetsRef, ref, "rows", len(rows))
	return ref, nil
}

func dashboardYear(d core.Dashboard, now time.Time) int {
	if len(d.Months) > 0 {
		if y, err := strconv.Atoi(string(d.Months[0])[:4]); err == nil {
			return y
		}
	}
	return now.Year()
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
