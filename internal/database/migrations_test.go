package database

import (
	"path/filepath"
	"testing"

	"github.com/caseus-app/caseus-backend/internal/cheese"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsTrimsMilkOrigin(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&cheese.Cheese{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	record := cheese.Cheese{
		ID:          "cheese-1",
		OwnerID:     "user-1",
		Name:        "Tomme",
		DateSeconds: 1,
		Status:      cheese.StatusPlanned,
		MilkOrigin:  "  Savoie ",
	}
	if err := database.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to insert cheese: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored cheese.Cheese
	if err := database.Where("cheese_id = ?", record.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload cheese: %v", err)
	}
	if stored.MilkOrigin != "Savoie" {
		testContext.Fatalf("expected trimmed origin, got %q", stored.MilkOrigin)
	}

	var applied migrationRecord
	if err := database.Where("name = ?", migrationTrimMilkOriginWhitespace).Take(&applied).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if applied.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "caseus.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"tree_nodes", "user_identities", "cheeses", "cheese_likes", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}
