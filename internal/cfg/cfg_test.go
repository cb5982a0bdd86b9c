package cfg

import (
	"flag"
	"math"
	"reflect"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIToken:              "test-token-123",
		SessionTTLMinutes:     120,
		SweepIntervalSeconds:  60,
	}
}

func with(mod func(*Config)) Config {
	c := validBase()
	mod(&c)
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.SessionTTLMinutes != 120 {
		t.Errorf("SessionTTLMinutes = %d, want 120", c.SessionTTLMinutes)
	}
	if c.SweepIntervalSeconds != 60 {
		t.Errorf("SweepIntervalSeconds = %d, want 60", c.SweepIntervalSeconds)
	}
	if c.DatabaseURL != "" || c.CatalogFile != "" || c.APIToken != "" {
		t.Errorf("string fields should default empty: %+v", c)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://gli@db/gli",
		"-db-max-conns", "8",
		"-db-slow-query-ms", "250",
		"-catalog-file", "/etc/gli/catalog.yaml",
		"-api-token", "a,b",
		"-coordinator-webhook-url", "https://hooks.example.com/x",
		"-session-ttl-minutes", "30",
		"-sweep-interval-seconds", "15",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	want := Config{
		DrainSeconds:          30,
		ShutdownBudgetSeconds: 120,
		APIPort:               9090,
		DatabaseURL:           "postgres://gli@db/gli",
		DBMaxConns:            8,
		DBSlowQueryMillis:     250,
		CatalogFile:           "/etc/gli/catalog.yaml",
		APIToken:              "a,b",
		CoordinatorWebhookURL: "https://hooks.example.com/x",
		SessionTTLMinutes:     30,
		SweepIntervalSeconds:  15,
	}
	if c != want {
		t.Errorf("config = %+v, want %+v", c, want)
	}
}

func TestAPITokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{" new , old ", []string{"new", "old"}},
		{",,", nil},
	}
	for _, tt := range tests {
		c := Config{APIToken: tt.in}
		if got := c.APITokens(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("APITokens(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name: "defaults are valid",
			cfg:  validBase(),
		},
		{
			name: "all optional fields set",
			cfg: with(func(c *Config) {
				c.DatabaseURL = "postgresql://gli:pw@localhost:5432/gli?sslmode=disable"
				c.DBMaxConns = 20
				c.DBSlowQueryMillis = 100
				c.CatalogFile = "catalog.json"
				c.CoordinatorWebhookURL = "https://hooks.slack.com/services/T/B/X"
			}),
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				APIToken: "t", SessionTTLMinutes: 1, SweepIntervalSeconds: 1,
			},
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				APIToken: "t", SessionTTLMinutes: 10080, SweepIntervalSeconds: 3600,
			},
		},
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "mysql database url",
			cfg:       with(func(c *Config) { c.DatabaseURL = "mysql://root@db/gli" }),
			wantErr:   true,
			errSubstr: []string{"DATABASE_URL"},
		},
		{
			name:      "negative max conns",
			cfg:       with(func(c *Config) { c.DBMaxConns = -1 }),
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "negative slow query threshold",
			cfg:       with(func(c *Config) { c.DBSlowQueryMillis = -5 }),
			wantErr:   true,
			errSubstr: []string{"DB_SLOW_QUERY_MS"},
		},
		{
			name:      "catalog with unknown extension",
			cfg:       with(func(c *Config) { c.CatalogFile = "catalog.toml" }),
			wantErr:   true,
			errSubstr: []string{"CATALOG_FILE", "unsupported catalog format"},
		},
		{
			name:      "blank api token list",
			cfg:       with(func(c *Config) { c.APIToken = " , " }),
			wantErr:   true,
			errSubstr: []string{"API_TOKEN"},
		},
		{
			name:      "webhook without scheme",
			cfg:       with(func(c *Config) { c.CoordinatorWebhookURL = "hooks.slack.com/services/x" }),
			wantErr:   true,
			errSubstr: []string{"COORDINATOR_WEBHOOK_URL"},
		},
		{
			name:      "ttl zero",
			cfg:       with(func(c *Config) { c.SessionTTLMinutes = 0 }),
			wantErr:   true,
			errSubstr: []string{"SESSION_TTL_MINUTES"},
		},
		{
			name:      "sweep interval above max",
			cfg:       with(func(c *Config) { c.SweepIntervalSeconds = 3601 }),
			wantErr:   true,
			errSubstr: []string{"SWEEP_INTERVAL_SECONDS"},
		},
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"API_TOKEN", "SESSION_TTL_MINUTES", "SWEEP_INTERVAL_SECONDS",
			},
		},
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port, ttl int
		token                    string
	}{
		{60, 90, 8080, 120, "tok"},
		{1, 2, 1, 1, "t"},
		{299, 300, 65535, 10080, "t"},
		{0, 0, 0, 0, ""},
		{-1, -1, -1, -1, ","},
		{300, 300, 65535, 120, "t"},
		{150, 100, 8080, 120, "t"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "a,b"},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.ttl, s.token)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, ttl int, token string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.SessionTTLMinutes = ttl
		c.APIToken = token
		err := c.Validate()

		allValid := drain >= 1 && drain <= 300 &&
			budget >= 1 && budget <= 300 &&
			budget > drain &&
			port >= 1 && port <= 65535 &&
			ttl >= 1 && ttl <= 10080 &&
			len(c.APITokens()) > 0

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
