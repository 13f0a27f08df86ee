package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/kendall-kelly/support-chat-api/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RequireTestEnvironment ensures that tests are running in the test environment.
// This prevents accidental execution of tests against production or development databases.
func RequireTestEnvironment(t *testing.T) {
	t.Helper()

	env := os.Getenv("GO_ENV")
	if env != "test" {
		t.Fatalf("SAFETY CHECK FAILED: Tests must run with GO_ENV=test to prevent data loss. Current GO_ENV=%q.", env)
	}
}

var dbCounter atomic.Int64

// NewTestDB opens a private in-memory sqlite database with every model migrated.
// The pool is pinned to one connection so concurrent callers serialize the way they
// would on a single database row lock.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get test database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// CreateAccount inserts an account with the given role and returns it
func CreateAccount(t *testing.T, db *gorm.DB, name, role string) models.Account {
	t.Helper()

	account := models.Account{
		Auth0ID: "auth0|" + name,
		Name:    name,
		Email:   name + "@example.com",
		Role:    role,
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("Failed to create account %s: %v", name, err)
	}
	return account
}
