package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Format: 001_migration_name.up.sql or 001_migration_name.down.sql
var migrationFileRegex = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// FSProvider loads migrations from a file system, typically an embed.FS
// holding the SQL for one database dialect.
type FSProvider struct {
	fsys           fs.FS
	migrationTable string
	dbDriver       string // "sqlite" or "postgres"
}

// NewFSProvider creates a provider reading *.sql files from the root of fsys.
func NewFSProvider(fsys fs.FS, migrationTable, dbDriver string) *FSProvider {
	if migrationTable == "" {
		migrationTable = "schema_migrations"
	}
	return &FSProvider{
		fsys:           fsys,
		migrationTable: migrationTable,
		dbDriver:       dbDriver,
	}
}

// GetMigrations loads all migrations
func (p *FSProvider) GetMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(p.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationFileRegex.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version number in file %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(p.fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{
				Version: version,
				Name:    strings.ReplaceAll(matches[2], "_", " "),
			}
			byVersion[version] = mig
		}

		if matches[3] == "up" {
			mig.Up = string(content)
		} else {
			mig.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// CreateMigrationTable creates the migration tracking table
func (p *FSProvider) CreateMigrationTable(ctx context.Context, db DB) error {
	tsType := "DATETIME"
	if p.dbDriver == "postgres" {
		tsType = "TIMESTAMP"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			applied_at %s DEFAULT CURRENT_TIMESTAMP
		)`, p.migrationTable, tsType)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the highest applied migration version
func (p *FSProvider) GetCurrentVersion(ctx context.Context, db DB) (int, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", p.migrationTable)

	var version int
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// SetVersion records version as the highest applied migration, forgetting
// any later ones.
func (p *FSProvider) SetVersion(ctx context.Context, db DB, version int) error {
	placeholder := "?"
	if p.dbDriver == "postgres" {
		placeholder = "$1"
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE version >= %s", p.migrationTable, placeholder)
	if _, err := db.ExecContext(ctx, del, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}

	if version == 0 {
		return nil
	}

	ins := fmt.Sprintf("INSERT INTO %s (version, applied_at) VALUES (%s, CURRENT_TIMESTAMP)", p.migrationTable, placeholder)
	if _, err := db.ExecContext(ctx, ins, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	return nil
}
