package database

import (
	"testing"

	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	if err := AutoMigrateAndSeed(db); err != nil {
		t.Fatalf("auto migrate and seed failed: %v", err)
	}

	var roleCount int64
	if err := db.Model(&models.Role{}).Count(&roleCount).Error; err != nil {
		t.Fatalf("count roles: %v", err)
	}
	if roleCount < 3 {
		t.Fatalf("expected at least 3 catalog roles, got %d", roleCount)
	}

	var permissionCount int64
	if err := db.Model(&models.Permission{}).Count(&permissionCount).Error; err != nil {
		t.Fatalf("count permissions: %v", err)
	}
	if permissionCount == 0 {
		t.Fatalf("expected catalog permissions to be seeded")
	}
}

func TestSeedDataIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := AutoMigrateAndSeed(db); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	var before int64
	if err := db.Model(&models.Role{}).Count(&before).Error; err != nil {
		t.Fatalf("count roles: %v", err)
	}

	if err := SeedData(db); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var after int64
	if err := db.Model(&models.Role{}).Count(&after).Error; err != nil {
		t.Fatalf("count roles: %v", err)
	}
	if before != after {
		t.Fatalf("expected role count to stay %d, got %d", before, after)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
