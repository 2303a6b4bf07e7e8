// Package database provides test database setup shared by integration tests.
package database

import (
	"testing"

	"github.com/recaphq/recap/pkg/database"
	"github.com/recaphq/recap/test/util"
)

// NewTestClient creates a test database client with migrations applied.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
