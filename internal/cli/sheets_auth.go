package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"taxos/internal/config"
	gsheet "taxos/internal/sheets/google"
)

// sheetsAuthCmd runs the OAuth consent flow once and stores the token the
// worker uses to export dashboards.
type sheetsAuthCmd struct {
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	port      int
	tokenFile string
	timeout   time.Duration
}

func (*sheetsAuthCmd) Name() string     { return "sheets-auth" }
func (*sheetsAuthCmd) Synopsis() string { return "authorize dashboard export with a Google account" }
func (*sheetsAuthCmd) Usage() string {
	return `taxosctl sheets-auth [-port 8085] [-token token.json]

  Prints a consent URL, waits for Google to redirect back to
  http://localhost:<port>/callback and saves the resulting token. The
  OAuth client is read from GOOGLE_OAUTH_CLIENT_JSON or
  GOOGLE_OAUTH_CLIENT_FILE; its redirect URIs must include the callback.
`
}

func (c *sheetsAuthCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.port, "port", c.cfg.OAuthRedirectPort, "Local port receiving the OAuth redirect.")
	f.StringVar(&c.tokenFile, "token", c.cfg.GoogleOAuthTokenFile, "Where to write the token.")
	f.DurationVar(&c.timeout, "timeout", 5*time.Minute, "How long to wait for authorization.")
}

func (c *sheetsAuthCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	oauthCfg, err := gsheet.OAuthConfig(c.cfg.GoogleOAuthClientJSON, c.cfg.GoogleOAuthClientFile)
	if err != nil {
		return c.fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := authorize(ctx, oauthCfg, "localhost:"+strconv.Itoa(c.port), func(authURL string) {
		fmt.Fprintf(c.out, "Open this URL to authorize:\n%s\n", authURL)
	})
	if err != nil {
		return c.fail(err)
	}
	if err := gsheet.SaveToken(c.tokenFile, tok); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.out, "Saved token to %s\n", c.tokenFile)
	return subcommands.ExitSuccess
}

func (c *sheetsAuthCmd) fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(c.errOut, err)
	return subcommands.ExitFailure
}

type callbackResult struct {
	code string
	err  error
}

// authorize serves the redirect endpoint on addr, hands the consent URL to
// prompt and exchanges the returned code for a token.
func authorize(ctx context.Context, cfg *oauth2.Config, addr string, prompt func(authURL string)) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("oauth error: %s", q.Get("error"))
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("code") == "":
			res.err = errors.New("oauth redirect carried no code")
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	prompt(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := cfg.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		return tok, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization not completed: %w", ctx.Err())
	}
}
