package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/fpz2018/gli/internal/catalog"
)

// Config holds the application settings that are not covered by the shared
// go-core config structs. It satisfies cfg.Registerable and cfg.Validatable.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DBMaxConns            int
	DBSlowQueryMillis     int
	CatalogFile           string
	APIToken              string
	CoordinatorWebhookURL string
	SessionTTLMinutes     int
	SweepIntervalSeconds  int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory session store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "maximum pooled database connections (0 = pgx default)")
	fs.IntVar(&c.DBSlowQueryMillis, "db-slow-query-ms", 0, "only log queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.CatalogFile, "catalog-file", "", "YAML or JSON question catalog (empty = built-in GLI catalog)")
	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens accepted on the referrer API")
	fs.StringVar(&c.CoordinatorWebhookURL, "coordinator-webhook-url", "", "Slack-compatible webhook notified when a session completes")
	fs.IntVar(&c.SessionTTLMinutes, "session-ttl-minutes", 120, "minutes of inactivity before a triage session is removed (1..10080)")
	fs.IntVar(&c.SweepIntervalSeconds, "sweep-interval-seconds", 60, "seconds between expired session sweeps (1..3600)")
}

// APITokens returns the configured bearer tokens with blanks removed.
func (c *Config) APITokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" {
		u, err := url.Parse(c.DatabaseURL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
		}
	}
	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0..1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMillis))
	}

	if c.CatalogFile != "" {
		if _, err := catalog.FormatFor(c.CatalogFile); err != nil {
			errs = append(errs, fmt.Errorf("CATALOG_FILE: %w", err))
		}
	}

	// The referrer API is for care professionals only.
	if len(c.APITokens()) == 0 {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.CoordinatorWebhookURL != "" {
		u, err := url.Parse(c.CoordinatorWebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, errors.New("COORDINATOR_WEBHOOK_URL must be an http(s) URL"))
		}
	}

	if c.SessionTTLMinutes <= 0 || c.SessionTTLMinutes > 10080 {
		errs = append(errs, fmt.Errorf("invalid SESSION_TTL_MINUTES %d (must be 1..10080)", c.SessionTTLMinutes))
	}
	if c.SweepIntervalSeconds <= 0 || c.SweepIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS %d (must be 1..3600)", c.SweepIntervalSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
