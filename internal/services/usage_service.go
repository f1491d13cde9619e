package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

// Security alert severities, ordered weakest to strongest.
const (
	AlertSeverityLow      = "low"
	AlertSeverityMedium   = "medium"
	AlertSeverityHigh     = "high"
	AlertSeverityCritical = "critical"
)

// Denial thresholds for alert severity, counted per user over the alert window.
const (
	alertWindow            = 24 * time.Hour
	alertDenialsMedium     = 5
	alertDenialsHigh       = 15
	alertDenialsCritical   = 40
	defaultActivityLimit   = 50
	maxActivityLimit       = 500
	defaultUnusedThreshold = 90
)

// UsageService records permission checks and answers analytics queries over
// the append-only usage log.
type UsageService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUsageService constructs a UsageService.
func NewUsageService(db *gorm.DB) (*UsageService, error) {
	if db == nil {
		return nil, errors.New("usage service: db is required")
	}
	return &UsageService{db: db, now: time.Now}, nil
}

// WithClock overrides the service clock, primarily for tests.
func (s *UsageService) WithClock(now func() time.Time) *UsageService {
	if now != nil {
		s.now = now
	}
	return s
}

// LogUsageInput describes one permission check to record.
type LogUsageInput struct {
	UserID       string
	PermissionID string
	Result       string
	ResourceType string
	ResourceID   string
	Action       string
	DenialReason string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
}

// LogUsage appends one usage entry. Failures to log must never block the
// permission check itself, so callers typically invoke this best-effort.
func (s *UsageService) LogUsage(ctx context.Context, input LogUsageInput) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.PermissionID) == "" {
		return apperrors.NewBadRequest("user and permission are required")
	}
	switch input.Result {
	case models.UsageResultGranted, models.UsageResultDenied, models.UsageResultError:
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("unknown result %q", input.Result))
	}

	entry := models.UsageLogEntry{
		UserID:       strings.TrimSpace(input.UserID),
		PermissionID: strings.TrimSpace(input.PermissionID),
		Result:       input.Result,
		ResourceType: strings.TrimSpace(input.ResourceType),
		ResourceID:   strings.TrimSpace(input.ResourceID),
		Action:       strings.TrimSpace(input.Action),
		DenialReason: strings.TrimSpace(input.DenialReason),
		IPAddress:    strings.TrimSpace(input.IPAddress),
		UserAgent:    strings.TrimSpace(input.UserAgent),
	}
	if len(input.Metadata) > 0 {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return fmt.Errorf("usage service: encode metadata: %w", err)
		}
		entry.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("usage service: log usage: %w", err)
	}
	return nil
}

// DateRange bounds an analytics query. A zero bound means unbounded on
// that side.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) apply(query *gorm.DB) *gorm.DB {
	if !r.From.IsZero() {
		query = query.Where("created_at >= ?", r.From)
	}
	if !r.To.IsZero() {
		query = query.Where("created_at <= ?", r.To)
	}
	return query
}

// UsageStats aggregates check outcomes for one permission.
type UsageStats struct {
	PermissionID string     `json:"permission_id"`
	Total        int64      `json:"total"`
	Granted      int64      `json:"granted"`
	Denied       int64      `json:"denied"`
	Errors       int64      `json:"errors"`
	UniqueUsers  int64      `json:"unique_users"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// PermissionUsageStats aggregates usage of one permission over a date range.
func (s *UsageService) PermissionUsageStats(ctx context.Context, permissionID string, dateRange DateRange) (*UsageStats, error) {
	ctx = ensureContext(ctx)

	stats := &UsageStats{PermissionID: permissionID}

	base := func() *gorm.DB {
		return dateRange.apply(s.db.WithContext(ctx).
			Model(&models.UsageLogEntry{}).
			Where("permission_id = ?", permissionID))
	}

	type resultCount struct {
		Result string
		Count  int64
	}
	var counts []resultCount
	if err := base().Select("result, COUNT(*) AS count").Group("result").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("usage service: count results: %w", err)
	}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Result {
		case models.UsageResultGranted:
			stats.Granted = c.Count
		case models.UsageResultDenied:
			stats.Denied = c.Count
		case models.UsageResultError:
			stats.Errors = c.Count
		}
	}

	if err := base().Distinct("user_id").Count(&stats.UniqueUsers).Error; err != nil {
		return nil, fmt.Errorf("usage service: count unique users: %w", err)
	}

	var last models.UsageLogEntry
	err := base().Order("created_at DESC").First(&last).Error
	if err == nil {
		stats.LastUsedAt = &last.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("usage service: find last use: %w", err)
	}

	return stats, nil
}

// UserUsageStats aggregates one user's checks over a date range, including a
// per-permission breakdown.
type UserUsageStats struct {
	UserID        string           `json:"user_id"`
	Total         int64            `json:"total"`
	Granted       int64            `json:"granted"`
	Denied        int64            `json:"denied"`
	ByPermission  map[string]int64 `json:"by_permission"`
	DenialRate    float64          `json:"denial_rate"`
	FirstActivity *time.Time       `json:"first_activity,omitempty"`
	LastActivity  *time.Time       `json:"last_activity,omitempty"`
}

// UserStats aggregates a user's usage over a date range.
func (s *UsageService) UserStats(ctx context.Context, userID string, dateRange DateRange) (*UserUsageStats, error) {
	ctx = ensureContext(ctx)

	var entries []models.UsageLogEntry
	err := dateRange.apply(s.db.WithContext(ctx).
		Where("user_id = ?", userID)).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("usage service: load user entries: %w", err)
	}

	stats := &UserUsageStats{UserID: userID, ByPermission: make(map[string]int64)}
	for i := range entries {
		e := &entries[i]
		stats.Total++
		stats.ByPermission[e.PermissionID]++
		switch e.Result {
		case models.UsageResultGranted:
			stats.Granted++
		case models.UsageResultDenied:
			stats.Denied++
		}
	}
	if stats.Total > 0 {
		stats.DenialRate = float64(stats.Denied) / float64(stats.Total)
		stats.FirstActivity = &entries[0].CreatedAt
		stats.LastActivity = &entries[len(entries)-1].CreatedAt
	}
	return stats, nil
}

// UnusedPermission names a catalog entry with no recorded use inside the
// inactivity window.
type UnusedPermission struct {
	PermissionID string     `json:"permission_id"`
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// UnusedPermissions lists permissions with no usage in the past daysInactive
// days, candidates for deprecation review.
func (s *UsageService) UnusedPermissions(ctx context.Context, daysInactive int) ([]UnusedPermission, error) {
	ctx = ensureContext(ctx)

	if daysInactive <= 0 {
		daysInactive = defaultUnusedThreshold
	}
	cutoff := s.now().AddDate(0, 0, -daysInactive)

	var perms []models.Permission
	if err := s.db.WithContext(ctx).Where("deprecated = ?", false).Order("key ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("usage service: load permissions: %w", err)
	}

	var unused []UnusedPermission
	for i := range perms {
		var last models.UsageLogEntry
		err := s.db.WithContext(ctx).
			Where("permission_id = ?", perms[i].ID).
			Order("created_at DESC").
			First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			unused = append(unused, UnusedPermission{PermissionID: perms[i].ID, Key: perms[i].Key, Name: perms[i].Name})
		case err != nil:
			return nil, fmt.Errorf("usage service: find last use: %w", err)
		case last.CreatedAt.Before(cutoff):
			lastAt := last.CreatedAt
			unused = append(unused, UnusedPermission{PermissionID: perms[i].ID, Key: perms[i].Key, Name: perms[i].Name, LastUsedAt: &lastAt})
		}
	}
	return unused, nil
}

// SecurityAlert flags a user with an unusual denial pattern in the last 24h.
type SecurityAlert struct {
	UserID     string    `json:"user_id"`
	Severity   string    `json:"severity"`
	Denials    int64     `json:"denials"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`
}

// SecurityAlerts derives alerts from denial counts per user over the last
// 24 hours. An optional severity filters to alerts at or above it.
func (s *UsageService) SecurityAlerts(ctx context.Context, minSeverity string) ([]SecurityAlert, error) {
	ctx = ensureContext(ctx)

	threshold, err := severityThreshold(minSeverity)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from := now.Add(-alertWindow)

	type denialCount struct {
		UserID string
		Count  int64
	}
	var counts []denialCount
	err = s.db.WithContext(ctx).
		Model(&models.UsageLogEntry{}).
		Select("user_id, COUNT(*) AS count").
		Where("result = ? AND created_at >= ?", models.UsageResultDenied, from).
		Group("user_id").
		Having("COUNT(*) >= ?", alertDenialsMedium).
		Order("count DESC").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("usage service: count denials: %w", err)
	}

	var alerts []SecurityAlert
	for _, c := range counts {
		severity := denialSeverity(c.Count)
		if severityRank(severity) < threshold {
			continue
		}
		alerts = append(alerts, SecurityAlert{
			UserID:     c.UserID,
			Severity:   severity,
			Denials:    c.Count,
			WindowFrom: from,
			WindowTo:   now,
		})
	}
	return alerts, nil
}

// ComplianceReport summarises all activity in a date range for auditors.
type ComplianceReport struct {
	Range       DateRange        `json:"range"`
	Total       int64            `json:"total"`
	Granted     int64            `json:"granted"`
	Denied      int64            `json:"denied"`
	Errors      int64            `json:"errors"`
	ActiveUsers int64            `json:"active_users"`
	ByResult    map[string]int64 `json:"by_result"`
	TopDenied   []PermissionHits `json:"top_denied"`
}

// PermissionHits pairs a permission with a hit count.
type PermissionHits struct {
	PermissionID string `json:"permission_id"`
	Count        int64  `json:"count"`
}

// Compliance builds the compliance report for a date range.
func (s *UsageService) Compliance(ctx context.Context, dateRange DateRange) (*ComplianceReport, error) {
	ctx = ensureContext(ctx)

	report := &ComplianceReport{Range: dateRange, ByResult: make(map[string]int64)}

	base := func() *gorm.DB {
		return dateRange.apply(s.db.WithContext(ctx).Model(&models.UsageLogEntry{}))
	}

	type resultCount struct {
		Result string
		Count  int64
	}
	var counts []resultCount
	if err := base().Select("result, COUNT(*) AS count").Group("result").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("usage service: count results: %w", err)
	}
	for _, c := range counts {
		report.Total += c.Count
		report.ByResult[c.Result] = c.Count
		switch c.Result {
		case models.UsageResultGranted:
			report.Granted = c.Count
		case models.UsageResultDenied:
			report.Denied = c.Count
		case models.UsageResultError:
			report.Errors = c.Count
		}
	}

	if err := base().Distinct("user_id").Count(&report.ActiveUsers).Error; err != nil {
		return nil, fmt.Errorf("usage service: count active users: %w", err)
	}

	var topDenied []PermissionHits
	err := base().
		Select("permission_id, COUNT(*) AS count").
		Where("result = ?", models.UsageResultDenied).
		Group("permission_id").
		Order("count DESC").
		Limit(10).
		Scan(&topDenied).Error
	if err != nil {
		return nil, fmt.Errorf("usage service: top denied: %w", err)
	}
	report.TopDenied = topDenied

	return report, nil
}

// RecentActivity lists the newest usage entries, capped.
func (s *UsageService) RecentActivity(ctx context.Context, limit int) ([]models.UsageLogEntry, error) {
	ctx = ensureContext(ctx)

	var entries []models.UsageLogEntry
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("usage service: recent activity: %w", err)
	}
	return entries, nil
}

// ResourceActivity lists the newest entries touching one resource.
func (s *UsageService) ResourceActivity(ctx context.Context, resourceType, resourceID string, limit int) ([]models.UsageLogEntry, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(resourceType) == "" {
		return nil, apperrors.NewBadRequest("resource type is required")
	}

	query := s.db.WithContext(ctx).Where("resource_type = ?", strings.TrimSpace(resourceType))
	if strings.TrimSpace(resourceID) != "" {
		query = query.Where("resource_id = ?", strings.TrimSpace(resourceID))
	}

	var entries []models.UsageLogEntry
	err := query.Order("created_at DESC").Limit(clampLimit(limit)).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("usage service: resource activity: %w", err)
	}
	return entries, nil
}

func denialSeverity(denials int64) string {
	switch {
	case denials >= alertDenialsCritical:
		return AlertSeverityCritical
	case denials >= alertDenialsHigh:
		return AlertSeverityHigh
	default:
		return AlertSeverityMedium
	}
}

func severityRank(severity string) int {
	switch severity {
	case AlertSeverityLow:
		return 0
	case AlertSeverityMedium:
		return 1
	case AlertSeverityHigh:
		return 2
	case AlertSeverityCritical:
		return 3
	default:
		return -1
	}
}

func severityThreshold(minSeverity string) (int, error) {
	if strings.TrimSpace(minSeverity) == "" {
		return 0, nil
	}
	rank := severityRank(minSeverity)
	if rank < 0 {
		return 0, apperrors.NewBadRequest(fmt.Sprintf("unknown severity %q", minSeverity))
	}
	return rank, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}
