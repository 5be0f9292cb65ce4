// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/internal/pkg/database"
)

// OpenTestDB returns a migrated in-memory database private to the test.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
