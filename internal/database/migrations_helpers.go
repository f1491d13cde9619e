package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/pkg/crypto"
	"github.com/oakhurst/backoffice/pkg/logger"
)

func seedSystemRoles(db *gorm.DB, catalog *permissions.Catalog) error {
	for _, roleDefault := range catalog.Roles() {
		role := models.Role{
			Key:         roleDefault.RoleKey,
			Name:        roleDefault.Name,
			Description: "Seeded from the permission catalog",
			IsSystem:    true,
		}
		if err := db.Where(models.Role{Key: role.Key}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}
	return nil
}

// seedRootUser creates the initial root account when the user table is empty.
// The generated password is logged once; it cannot be recovered later.
func seedRootUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("database: count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	password, err := crypto.GenerateToken(12)
	if err != nil {
		return fmt.Errorf("database: generate root password: %w", err)
	}
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("database: hash root password: %w", err)
	}

	root := models.User{
		Username: "root",
		Email:    "root@localhost",
		Password: hashed,
		IsRoot:   true,
		IsActive: true,
	}
	if err := db.Create(&root).Error; err != nil {
		return fmt.Errorf("database: create root user: %w", err)
	}

	logger.WithModule("database").Info("created initial root user",
		zap.String("username", root.Username),
		zap.String("password", password),
	)
	return nil
}
