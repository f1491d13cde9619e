package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/logger"
	"github.com/oakhurst/backoffice/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultGrantSpec          = "@hourly"
	defaultDelegationSpec     = "@hourly"
	defaultRequestSpec        = "@hourly"
	defaultRetentionSpec      = "@daily"
)

// Cleaner coordinates the background sweeps: expiring outdated grants,
// delegations, and requests, plus enforcing audit log retention. The
// permission usage log is append-only and is never swept. Sweeps are
// advisory; reads always filter on validity, so a missed run never widens
// access.
type Cleaner struct {
	grants      *services.OrgPermissionService
	delegations *services.DelegationService
	requests    *services.RequestService
	audit       *services.AuditService

	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	enabled bool

	auditRetention int

	grantSchedule      string
	delegationSchedule string
	requestSchedule    string
	retentionSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithGrantSchedule overrides the cron specification for the expired grant sweep.
func WithGrantSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.grantSchedule = spec
		}
	}
}

// WithDelegationSchedule overrides the cron specification for the delegation expiry sweep.
func WithDelegationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.delegationSchedule = spec
		}
	}
}

// WithRequestSchedule overrides the cron specification for the stale request sweep.
func WithRequestSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.requestSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for retention enforcement.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(grants *services.OrgPermissionService, delegations *services.DelegationService, requests *services.RequestService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		grants:             grants,
		delegations:        delegations,
		requests:           requests,
		audit:              audit,
		now:                time.Now,
		auditRetention:     defaultAuditRetentionDays,
		grantSchedule:      defaultGrantSpec,
		delegationSchedule: defaultDelegationSpec,
		requestSchedule:    defaultRequestSpec,
		retentionSchedule:  defaultRetentionSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.grants != nil || cleaner.delegations != nil ||
		cleaner.requests != nil || cleaner.audit != nil

	return cleaner
}

// Start registers the sweeps with the cron scheduler and launches it if at
// least one sweep is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.grants != nil {
		if err := c.addSweep(c.grantSchedule, "expired_grants", func(ctx context.Context) (int64, error) {
			return c.grants.CleanupExpired(ctx)
		}); err != nil {
			return err
		}
	}

	if c.delegations != nil {
		if err := c.addSweep(c.delegationSchedule, "expired_delegations", func(ctx context.Context) (int64, error) {
			return c.delegations.ExpireOutdated(ctx)
		}); err != nil {
			return err
		}
	}

	if c.requests != nil {
		if err := c.addSweep(c.requestSchedule, "stale_requests", func(ctx context.Context) (int64, error) {
			return c.requests.ExpireOutdated(ctx)
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		if err := c.addSweep(c.retentionSchedule, "audit_retention", func(ctx context.Context) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.auditRetention)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

func (c *Cleaner) addSweep(spec, name string, run func(context.Context) (int64, error)) error {
	_, err := c.cron.AddFunc(spec, func() {
		_ = c.runSweep(context.Background(), name, run)
	})
	return err
}

func (c *Cleaner) runSweep(ctx context.Context, name string, run func(context.Context) (int64, error)) error {
	rows, err := run(ctx)
	if err != nil {
		c.log.Warn("sweep failed", zap.String("sweep", name), zap.Error(err))
		return err
	}
	if rows > 0 {
		metrics.SweepRowsAffected.WithLabelValues(name).Add(float64(rows))
		c.log.Info("sweep completed", zap.String("sweep", name), zap.Int64("rows", rows))
	}
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Primarily used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.grants != nil {
		errs = multierr.Append(errs, c.runSweep(ctx, "expired_grants", func(ctx context.Context) (int64, error) {
			return c.grants.CleanupExpired(ctx)
		}))
	}

	if c.delegations != nil {
		errs = multierr.Append(errs, c.runSweep(ctx, "expired_delegations", func(ctx context.Context) (int64, error) {
			return c.delegations.ExpireOutdated(ctx)
		}))
	}

	if c.requests != nil {
		errs = multierr.Append(errs, c.runSweep(ctx, "stale_requests", func(ctx context.Context) (int64, error) {
			return c.requests.ExpireOutdated(ctx)
		}))
	}

	if c.audit != nil && c.auditRetention > 0 {
		errs = multierr.Append(errs, c.runSweep(ctx, "audit_retention", func(ctx context.Context) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.auditRetention)
		}))
	}

	return errs
}
