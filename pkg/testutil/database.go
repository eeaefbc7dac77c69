package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// DatabaseURLEnv names the variable holding the admin connection string
// for integration tests. Tests that need a database skip when it is unset.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// TestDB represents a test database instance
type TestDB struct {
	DB     *sql.DB
	DBName string
	t      *testing.T
}

// SetupTestDB creates a throwaway database on the server named by
// TEST_DATABASE_URL and drops it when the test finishes
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	adminConnStr := os.Getenv(DatabaseURLEnv)
	if adminConnStr == "" {
		t.Skipf("%s not set; skipping database test", DatabaseURLEnv)
	}

	adminDB, err := sql.Open("postgres", adminConnStr)
	require.NoError(t, err, "Failed to connect to postgres database")
	defer adminDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminDB.PingContext(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}

	dbName := fmt.Sprintf("site_integrations_test_%d", time.Now().UnixNano())
	_, err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err, "Failed to create test database")

	testConnStr, err := withDatabase(adminConnStr, dbName)
	require.NoError(t, err)

	db, err := sql.Open("postgres", testConnStr)
	require.NoError(t, err, "Failed to connect to test database")

	tdb := &TestDB{DB: db, DBName: dbName, t: t}
	t.Cleanup(func() { tdb.Teardown(adminConnStr) })
	return tdb
}

// Teardown drops the test database
func (db *TestDB) Teardown(adminConnStr string) {
	db.t.Helper()

	if db.DB != nil {
		db.DB.Close()
	}

	adminDB, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		db.t.Logf("Failed to connect to postgres database: %v", err)
		return
	}
	defer adminDB.Close()

	_, err = adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", db.DBName))
	if err != nil {
		db.t.Logf("Failed to drop test database: %v", err)
	}
}

// Truncate truncates the given tables
func (db *TestDB) Truncate(tables ...string) {
	db.t.Helper()

	for _, table := range tables {
		_, err := db.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(db.t, err, "Failed to truncate table %s", table)
	}
}

// withDatabase swaps the database name in a postgres:// URL
func withDatabase(connStr, dbName string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
