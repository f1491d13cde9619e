package permissions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oakhurst/backoffice/internal/models"
)

// Sync persists catalog definitions to the backing database so grants,
// requests, and delegations can reference them by row id. Existing rows are
// updated in place; catalog entries are never deleted, only deprecated.
func Sync(ctx context.Context, db *gorm.DB, catalog *Catalog) error {
	if db == nil {
		return errors.New("permission: db is required")
	}
	if catalog == nil {
		return errors.New("permission: catalog is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx := db.WithContext(ctx)
	for _, def := range catalog.Definitions() {
		record := models.Permission{
			Key:         def.Key,
			Name:        def.Name,
			Description: def.Description,
			Deprecated:  def.Deprecated,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "deprecated"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("permission: sync %s: %w", def.Key, err)
		}
	}

	return nil
}
