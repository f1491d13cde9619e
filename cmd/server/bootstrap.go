package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/api"
	"github.com/oakhurst/backoffice/internal/app"
	"github.com/oakhurst/backoffice/internal/app/maintenance"
	iauth "github.com/oakhurst/backoffice/internal/auth"
	"github.com/oakhurst/backoffice/internal/database"
	"github.com/oakhurst/backoffice/internal/notifications"
	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/logger"
	"github.com/oakhurst/backoffice/pkg/mail"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	JWT      *iauth.JWTService
	Hub      *notifications.Hub
	Cleaner  *maintenance.Cleaner
	Notifier *notifications.ExpiryNotifier
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, background jobs, and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	// The signing secret persists across restarts so issued tokens stay
	// valid; the first stored value wins.
	secret, err := database.EnsureAuthSigningSecret(ctx, stack.DB, cfg.Auth.JWT.Secret)
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWT.Secret = secret

	stack.JWT, err = iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	resolver, err := permissions.NewResolver(stack.DB, permissions.DefaultCatalog())
	if err != nil {
		return nil, fmt.Errorf("initialise permission resolver: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}
	grantSvc, err := services.NewOrgPermissionService(stack.DB, resolver, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise grant service: %w", err)
	}
	delegationSvc, err := services.NewDelegationService(stack.DB, resolver, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise delegation service: %w", err)
	}
	requestSvc, err := services.NewRequestService(stack.DB, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise request service: %w", err)
	}
	if days := cfg.Maintenance.PendingRequestDays; days > 0 {
		requestSvc = requestSvc.WithPendingTTL(time.Duration(days) * 24 * time.Hour)
	}
	stack.Cleaner = maintenance.NewCleaner(grantSvc, delegationSvc, requestSvc, auditSvc,
		maintenance.WithGrantSchedule(cfg.Maintenance.GrantSchedule),
		maintenance.WithDelegationSchedule(cfg.Maintenance.DelegationSchedule),
		maintenance.WithRequestSchedule(cfg.Maintenance.RequestSchedule),
		maintenance.WithRetentionSchedule(cfg.Maintenance.RetentionSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Hub = notifications.NewHub()

	if cfg.Notification.Enabled {
		mailer, mailErr := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if mailErr != nil {
			return nil, fmt.Errorf("initialise mailer: %w", mailErr)
		}
		stack.Notifier, err = notifications.NewExpiryNotifier(stack.DB, delegationSvc, stack.Hub,
			notifications.WithWindowHours(cfg.Notification.ExpiringWithinHours),
			notifications.WithMailer(mailer),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise expiry notifier: %w", err)
		}
		if err := stack.Notifier.Start(); err != nil {
			return nil, fmt.Errorf("start expiry notifier: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, stack.JWT, cfg, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, runs a final sweep, and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Notifier != nil {
		<-s.Notifier.Stop().Done()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql", "mariadb":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
