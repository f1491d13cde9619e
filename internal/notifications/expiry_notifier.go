package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/logger"
	"github.com/oakhurst/backoffice/pkg/mail"
)

const (
	defaultExpiryWindowHours = 24
	defaultNotifySpec        = "@hourly"
)

// ExpiryNotifier warns delegation parties before their delegation lapses.
// Connected clients get a hub event; the delegatee additionally receives an
// email when a mailer is configured.
type ExpiryNotifier struct {
	db          *gorm.DB
	delegations *services.DelegationService
	hub         *Hub
	mailer      mail.Mailer

	cron        *cron.Cron
	windowHours int
	schedule    string
	log         *zap.Logger
}

// NotifierOption customises the ExpiryNotifier.
type NotifierOption func(*ExpiryNotifier)

// WithWindowHours adjusts how far ahead of expiry the notifier looks.
func WithWindowHours(hours int) NotifierOption {
	return func(n *ExpiryNotifier) {
		if hours > 0 {
			n.windowHours = hours
		}
	}
}

// WithSchedule overrides the cron specification for the notifier run.
func WithSchedule(spec string) NotifierOption {
	return func(n *ExpiryNotifier) {
		if spec != "" {
			n.schedule = spec
		}
	}
}

// WithMailer attaches an outbound mailer for email delivery.
func WithMailer(mailer mail.Mailer) NotifierOption {
	return func(n *ExpiryNotifier) {
		n.mailer = mailer
	}
}

// WithNotifierCron injects a preconfigured cron instance, primarily for testing.
func WithNotifierCron(c *cron.Cron) NotifierOption {
	return func(n *ExpiryNotifier) {
		if c != nil {
			n.cron = c
		}
	}
}

// NewExpiryNotifier constructs an ExpiryNotifier.
func NewExpiryNotifier(db *gorm.DB, delegations *services.DelegationService, hub *Hub, opts ...NotifierOption) (*ExpiryNotifier, error) {
	if db == nil {
		return nil, errors.New("expiry notifier: db is required")
	}
	if delegations == nil {
		return nil, errors.New("expiry notifier: delegation service is required")
	}

	notifier := &ExpiryNotifier{
		db:          db,
		delegations: delegations,
		hub:         hub,
		windowHours: defaultExpiryWindowHours,
		schedule:    defaultNotifySpec,
		log:         logger.WithModule("notifications"),
	}

	for _, opt := range opts {
		opt(notifier)
	}

	if notifier.cron == nil {
		notifier.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return notifier, nil
}

// Start schedules the notifier run.
func (n *ExpiryNotifier) Start() error {
	if _, err := n.cron.AddFunc(n.schedule, func() {
		if err := n.Run(context.Background()); err != nil {
			n.log.Warn("expiry notification run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	n.cron.Start()
	return nil
}

// Stop halts the underlying scheduler.
func (n *ExpiryNotifier) Stop() context.Context {
	if n.cron == nil {
		return context.Background()
	}
	return n.cron.Stop()
}

// Run performs a single notification pass.
func (n *ExpiryNotifier) Run(ctx context.Context) error {
	expiring, err := n.delegations.ExpiringSoon(ctx, n.windowHours)
	if err != nil {
		return fmt.Errorf("expiry notifier: %w", err)
	}

	var errs error
	for i := range expiring {
		if err := n.notify(ctx, &expiring[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (n *ExpiryNotifier) notify(ctx context.Context, delegation *models.PermissionDelegation) error {
	payload := map[string]any{
		"delegation_id": delegation.ID,
		"permission_id": delegation.PermissionID,
		"valid_until":   delegation.ValidUntil.Format(time.RFC3339),
	}
	if delegation.Permission != nil {
		payload["permission"] = delegation.Permission.Key
	}

	if n.hub != nil {
		event := Event{Event: EventDelegationExpiring, Payload: payload}
		n.hub.BroadcastMany([]string{delegation.DelegatorID, delegation.DelegateeID}, event)
	}

	if n.mailer == nil {
		return nil
	}

	var delegatee models.User
	if err := n.db.WithContext(ctx).First(&delegatee, "id = ?", delegation.DelegateeID).Error; err != nil {
		return fmt.Errorf("expiry notifier: load delegatee: %w", err)
	}
	if delegatee.Email == "" {
		return nil
	}

	permissionKey := delegation.PermissionID
	if delegation.Permission != nil {
		permissionKey = delegation.Permission.Key
	}

	msg := mail.Message{
		To:      []string{delegatee.Email},
		Subject: fmt.Sprintf("Delegated permission %s expires soon", permissionKey),
		Body: fmt.Sprintf(
			"Your delegated permission %s expires at %s. Ask the delegator to renew it if you still need access.\n",
			permissionKey, delegation.ValidUntil.Format(time.RFC1123),
		),
	}
	if err := n.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("expiry notifier: send mail: %w", err)
	}
	return nil
}
