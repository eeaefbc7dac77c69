package testutil

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

// RunMigrations applies the migrations found under dir in fsys
func RunMigrations(t *testing.T, db *TestDB, fsys fs.FS, dir string) {
	t.Helper()

	m := newMigrator(t, db, fsys, dir)
	t.Cleanup(func() { m.Close() })

	err := m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err, "Failed to run migrations")
	}
}

// MigrateDown rolls back all migrations
func MigrateDown(t *testing.T, db *TestDB, fsys fs.FS, dir string) {
	t.Helper()

	m := newMigrator(t, db, fsys, dir)
	defer m.Close()

	err := m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err, "Failed to rollback migrations")
	}
}

func newMigrator(t *testing.T, db *TestDB, fsys fs.FS, dir string) *migrate.Migrate {
	t.Helper()

	src, err := iofs.New(fsys, dir)
	require.NoError(t, err, "Failed to open migration source")

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	require.NoError(t, err, "Failed to create postgres driver")

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	require.NoError(t, err, "Failed to create migrate instance")
	return m
}
