// Package database opens the observation database and owns its schema.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/meteorwatch/vmdb/internal/log"
	"github.com/meteorwatch/vmdb/pkg/migrate"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

//go:embed migrations
var migrationFiles embed.FS

func init() {
	// modernc's driver name is not known to sqlx
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Client holds the connection to the observation database. DB and Gorm
// share one connection pool.
type Client struct {
	DB     *sqlx.DB
	Gorm   *gorm.DB
	driver string
	logger *zap.SugaredLogger
}

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = log.GetSugaredLogger()
	}

	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		dsn = SQLiteDSN(dsn)
	case DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s database: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to %s database: %w", opts.Driver, err)
	}

	// Create a logger for gorm
	dbLogger := gormlogger.New(
		zap.NewStdLog(log.GetZapLogger()),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	if opts.Driver == DriverSQLite {
		dialector = sqlite.Dialector{DriverName: DriverSQLite, Conn: db.DB}
	} else {
		dialector = postgres.New(postgres.Config{Conn: db.DB})
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: dbLogger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialise gorm: %w", err)
	}

	logger.Infow("database connection successful", "driver", opts.Driver)

	return &Client{
		DB:     db,
		Gorm:   gdb,
		driver: opts.Driver,
		logger: logger,
	}, nil
}

// SQLiteDSN adds the pragmas the normalizer relies on to a SQLite file name
// unless the caller already chose pragmas.
func SQLiteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

// Driver returns the configured driver name.
func (c *Client) Driver() string {
	return c.driver
}

// IsSQLite reports whether the database is SQLite.
func (c *Client) IsSQLite() bool {
	return c.driver == DriverSQLite
}

// Dialect returns the SQL dialect, "sqlite" or "postgres".
func (c *Client) Dialect() string {
	if c.IsSQLite() {
		return DriverSQLite
	}
	return DriverPostgres
}

// Migrator returns a migrator for the embedded schema of this dialect.
func (c *Client) Migrator() (*migrate.Migrator, error) {
	sub, err := fs.Sub(migrationFiles, "migrations/"+c.Dialect())
	if err != nil {
		return nil, fmt.Errorf("no migrations for %s: %w", c.Dialect(), err)
	}
	provider := migrate.NewFSProvider(sub, "schema_migrations", c.Dialect())
	return migrate.NewMigrator(c.DB.DB, provider, c.logger), nil
}

// stagingTables are cleared by DeleteStaged. Reference tables are kept.
var stagingTables = []string{"imported_magnitude", "imported_rate", "imported_session"}

// DeleteStaged removes imported observations that are no longer needed once
// normalized. On SQLite the file is compacted afterwards.
func (c *Client) DeleteStaged(ctx context.Context) error {
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range stagingTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing cleanup: %w", err)
	}

	if c.IsSQLite() {
		if _, err := c.DB.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("error compacting database: %w", err)
		}
	}
	return nil
}

// StagedPeriod returns the earliest start and the latest end of all staged
// observations. ok is false when nothing is staged.
func (c *Client) StagedPeriod(ctx context.Context) (from, to time.Time, ok bool, err error) {
	for _, table := range []string{"imported_rate", "imported_magnitude"} {
		var starts, ends []time.Time
		if err := c.DB.SelectContext(ctx, &starts, "SELECT period_start FROM "+table+" ORDER BY period_start ASC LIMIT 1"); err != nil {
			return from, to, false, fmt.Errorf("error reading %s: %w", table, err)
		}
		if err := c.DB.SelectContext(ctx, &ends, "SELECT period_end FROM "+table+" ORDER BY period_end DESC LIMIT 1"); err != nil {
			return from, to, false, fmt.Errorf("error reading %s: %w", table, err)
		}
		if len(starts) == 0 || len(ends) == 0 {
			continue
		}
		if !ok || starts[0].Before(from) {
			from = starts[0]
		}
		if !ok || ends[0].After(to) {
			to = ends[0]
		}
		ok = true
	}
	return from, to, ok, nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.DB.Close()
}
