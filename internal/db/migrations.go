// Package db holds the embedded Postgres schema and applies it with
// golang-migrate.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/httpfs"

	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// LatestMigrationVersion must be bumped with every new migration file.
const LatestMigrationVersion uint = 1

// MigrationsTable keeps this service's schema version apart from other
// services sharing the database.
const MigrationsTable = "webhook_schema_migrations"

// ErrMigrationDowngrade is returned when the database is newer than this
// binary's migrations.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// MigrationTarget moves a migrate instance to a version.
type MigrationTarget func(m *migrate.Migrate) error

var (
	// TargetLatest applies every pending up migration.
	TargetLatest MigrationTarget = func(m *migrate.Migrate) error { return m.Up() }

	// TargetDown reverts every migration.
	TargetDown MigrationTarget = func(m *migrate.Migrate) error { return m.Down() }
)

// TargetVersion migrates up or down to version.
func TargetVersion(version uint) MigrationTarget {
	return func(m *migrate.Migrate) error { return m.Migrate(version) }
}

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...interface{}) {
	logger.Info("[migrate] " + strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (migrationLogger) Verbose() bool { return false }

// Apply runs the embedded migrations against db up or down to target. It
// refuses to touch a dirty database or one newer than LatestMigrationVersion
// unless the target is an explicit downgrade.
//
// The migrate driver owns a connection from db until the process exits;
// callers should use a dedicated pool.
func Apply(db *sql.DB, target MigrationTarget, allowDowngrade bool) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d, manual intervention required", version)
	}
	if version > LatestMigrationVersion && !allowDowngrade {
		return fmt.Errorf("%w: db_version=%d latest_migration_version=%d",
			ErrMigrationDowngrade, version, LatestMigrationVersion)
	}

	logger.Info("[migrate] applying migrations",
		"current_version", version, "latest_version", LatestMigrationVersion)

	if err := target(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	after, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("[migrate] database at version", "version", after)
	return nil
}

// Version reports the applied schema version. A fresh database is version
// 0 and not dirty.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	src, err := httpfs.New(http.FS(migrationFS), "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("httpfs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m.Log = migrationLogger{}
	return m, nil
}
