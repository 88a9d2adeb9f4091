package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Store backends accepted by -store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
)

// Identity backends accepted by -identity.
const (
	IdentityStatic   = "static"
	IdentityPostgres = "postgres"
)

// Config adds log-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	Store       string
	DatabaseURL string
	SQLitePath  string
	MySQLDSN    string

	Identity    string
	StaticUsers string

	Retention     time.Duration
	SweepInterval time.Duration
	StoreTimeout  time.Duration

	RedisAddr     string
	SweepLeaseTTL time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.Store, "store", StoreMemory, "item store backend (memory, postgres, sqlite, mysql)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the postgres store and identity backends")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "itemdesk.db", "SQLite database file for the sqlite store")
	fs.StringVar(&c.MySQLDSN, "mysql-dsn", "", "MySQL DSN for the mysql store")
	fs.StringVar(&c.Identity, "identity", IdentityStatic, "identity backend (static, postgres)")
	fs.StringVar(&c.StaticUsers, "static-users", "", "comma-separated id:role:token users; seeds the postgres identity backend when set")
	fs.DurationVar(&c.Retention, "retention", 7*24*time.Hour, "how long resolved items are kept before purge")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", time.Hour, "how often the retention sweeper runs")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 5*time.Second, "timeout for each store or identity call (max 1m)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the sweep lease (empty = no lease)")
	fs.DurationVar(&c.SweepLeaseTTL, "sweep-lease-ttl", 0, "sweep lease TTL (0 = sweep interval)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Each store backend needs its own connection setting
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE=postgres"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for STORE=sqlite"))
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for STORE=mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory, postgres, sqlite or mysql)", c.Store))
	}

	switch c.Identity {
	case IdentityStatic:
		if c.StaticUsers == "" {
			errs = append(errs, errors.New("STATIC_USERS is required for IDENTITY=static"))
		}
	case IdentityPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for IDENTITY=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid IDENTITY %q (must be static or postgres)", c.Identity))
	}

	// Retention and scheduling
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETENTION %s (must be positive)", c.Retention))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL %s (must be positive)", c.SweepInterval))
	}
	if c.StoreTimeout <= 0 || c.StoreTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid STORE_TIMEOUT %s (must be in (0, 1m])", c.StoreTimeout))
	}
	if c.SweepLeaseTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_LEASE_TTL %s (must not be negative)", c.SweepLeaseTTL))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
