package permissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oakhurst/backoffice/internal/models"
)

// Context carries the call-side facts a condition is evaluated against.
// Evaluation is pure: the same (condition, context) pair always yields the
// same verdict.
type Context struct {
	Timestamp time.Time
	IPAddress string
	Geo       *GeoLocation
	Device    *DeviceInfo
}

// GeoLocation is the caller's resolved geography.
type GeoLocation struct {
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeviceInfo describes the caller's device.
type DeviceInfo struct {
	DeviceType  string `json:"device_type"`
	OS          string `json:"os"`
	IsCorporate bool   `json:"is_corporate"`
}

// GeoPoint is one vertex of a geofence polygon.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ConditionConfig is the typed payload attached to a permission condition.
// Configs are decoded and validated once at the service boundary.
type ConditionConfig interface {
	Type() string
	Validate() error
	// Evaluate reports whether the context satisfies the condition. Missing
	// context for location, device, and IP conditions fails closed.
	Evaluate(ctx Context) bool
}

// TimeConditionConfig restricts a grant to a time-of-day window and/or days
// of the week, projected into the configured timezone (UTC by default).
// Days follow ISO-8601 numbering: 1 = Monday … 7 = Sunday.
type TimeConditionConfig struct {
	TimeStart  string `json:"time_start,omitempty"`
	TimeEnd    string `json:"time_end,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

func (c *TimeConditionConfig) Type() string { return models.ConditionTypeTime }

func (c *TimeConditionConfig) Validate() error {
	if c.TimeStart == "" && c.TimeEnd == "" && len(c.DaysOfWeek) == 0 {
		return errors.New("time condition: at least one of time window or days of week is required")
	}
	if (c.TimeStart == "") != (c.TimeEnd == "") {
		return errors.New("time condition: time_start and time_end must be set together")
	}
	if c.TimeStart != "" {
		if _, err := time.Parse("15:04", c.TimeStart); err != nil {
			return fmt.Errorf("time condition: invalid time_start %q", c.TimeStart)
		}
		if _, err := time.Parse("15:04", c.TimeEnd); err != nil {
			return fmt.Errorf("time condition: invalid time_end %q", c.TimeEnd)
		}
	}
	for _, day := range c.DaysOfWeek {
		if day < 1 || day > 7 {
			return fmt.Errorf("time condition: day of week %d out of range 1-7", day)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("time condition: unknown timezone %q", c.Timezone)
		}
	}
	return nil
}

func (c *TimeConditionConfig) Evaluate(ctx Context) bool {
	if ctx.Timestamp.IsZero() {
		return false
	}

	loc := time.UTC
	if c.Timezone != "" {
		parsed, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return false
		}
		loc = parsed
	}
	local := ctx.Timestamp.In(loc)

	if len(c.DaysOfWeek) > 0 {
		iso := int(local.Weekday())
		if iso == 0 {
			iso = 7 // time.Sunday is 0, ISO numbering puts it last
		}
		if !containsInt(c.DaysOfWeek, iso) {
			return false
		}
	}

	if c.TimeStart != "" {
		start, err := time.Parse("15:04", c.TimeStart)
		if err != nil {
			return false
		}
		end, err := time.Parse("15:04", c.TimeEnd)
		if err != nil {
			return false
		}

		minutes := local.Hour()*60 + local.Minute()
		startMin := start.Hour()*60 + start.Minute()
		endMin := end.Hour()*60 + end.Minute()

		if startMin <= endMin {
			if minutes < startMin || minutes > endMin {
				return false
			}
		} else {
			// Overnight window, e.g. 22:00-06:00.
			if minutes < startMin && minutes > endMin {
				return false
			}
		}
	}

	return true
}

// LocationConditionConfig restricts a grant to allow-listed geography and/or
// a polygon geofence. Missing geo context fails closed.
type LocationConditionConfig struct {
	Countries []string   `json:"countries,omitempty"`
	Regions   []string   `json:"regions,omitempty"`
	Cities    []string   `json:"cities,omitempty"`
	GeoFence  []GeoPoint `json:"geo_fence,omitempty"`
}

func (c *LocationConditionConfig) Type() string { return models.ConditionTypeLocation }

func (c *LocationConditionConfig) Validate() error {
	if len(c.Countries) == 0 && len(c.Regions) == 0 && len(c.Cities) == 0 && len(c.GeoFence) == 0 {
		return errors.New("location condition: at least one allow-list or geofence is required")
	}
	if n := len(c.GeoFence); n > 0 && n < 3 {
		return errors.New("location condition: geofence needs at least 3 vertices")
	}
	return nil
}

// Evaluate passes when the geo context matches the allow-lists or falls
// inside the geofence polygon. The two axes are alternatives: a caller on an
// allow-listed location passes even when outside the fence, and vice versa.
func (c *LocationConditionConfig) Evaluate(ctx Context) bool {
	if ctx.Geo == nil {
		return false
	}

	if c.matchesAllowLists(ctx.Geo) {
		return true
	}
	return len(c.GeoFence) > 0 && pointInPolygon(ctx.Geo.Latitude, ctx.Geo.Longitude, c.GeoFence)
}

// matchesAllowLists applies every configured list; country, region, and city
// narrow each other. No lists configured means no allow-list match.
func (c *LocationConditionConfig) matchesAllowLists(geo *GeoLocation) bool {
	if len(c.Countries) == 0 && len(c.Regions) == 0 && len(c.Cities) == 0 {
		return false
	}
	if len(c.Countries) > 0 && !containsFold(c.Countries, geo.Country) {
		return false
	}
	if len(c.Regions) > 0 && !containsFold(c.Regions, geo.Region) {
		return false
	}
	if len(c.Cities) > 0 && !containsFold(c.Cities, geo.City) {
		return false
	}
	return true
}

// DeviceConditionConfig restricts a grant to specific device types, operating
// systems, or corporate-managed devices. Missing device context fails closed.
type DeviceConditionConfig struct {
	DeviceTypes         []string `json:"device_types,omitempty"`
	OperatingSystems    []string `json:"operating_systems,omitempty"`
	CorporateDeviceOnly bool     `json:"corporate_device_only,omitempty"`
}

func (c *DeviceConditionConfig) Type() string { return models.ConditionTypeDevice }

func (c *DeviceConditionConfig) Validate() error {
	if len(c.DeviceTypes) == 0 && len(c.OperatingSystems) == 0 && !c.CorporateDeviceOnly {
		return errors.New("device condition: at least one device constraint is required")
	}
	return nil
}

func (c *DeviceConditionConfig) Evaluate(ctx Context) bool {
	if ctx.Device == nil {
		return false
	}

	if len(c.DeviceTypes) > 0 && !containsFold(c.DeviceTypes, ctx.Device.DeviceType) {
		return false
	}
	if len(c.OperatingSystems) > 0 && !containsFold(c.OperatingSystems, ctx.Device.OS) {
		return false
	}
	if c.CorporateDeviceOnly && !ctx.Device.IsCorporate {
		return false
	}
	return true
}

// IPRangeConditionConfig restricts a grant to allow-listed CIDR ranges.
// A missing or malformed caller IP fails closed.
type IPRangeConditionConfig struct {
	AllowedCIDRs []string `json:"allowed_cidrs"`
}

func (c *IPRangeConditionConfig) Type() string { return models.ConditionTypeIPRange }

func (c *IPRangeConditionConfig) Validate() error {
	if len(c.AllowedCIDRs) == 0 {
		return errors.New("ip_range condition: at least one CIDR is required")
	}
	for _, cidr := range c.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("ip_range condition: invalid CIDR %q", cidr)
		}
	}
	return nil
}

func (c *IPRangeConditionConfig) Evaluate(ctx Context) bool {
	ip := net.ParseIP(strings.TrimSpace(ctx.IPAddress))
	if ip == nil {
		return false
	}

	for _, cidr := range c.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// DecodeConditionConfig parses and validates the stored payload for the given
// condition type. This is the single place condition configs are interpreted.
func DecodeConditionConfig(conditionType string, raw []byte) (ConditionConfig, error) {
	var cfg ConditionConfig
	switch conditionType {
	case models.ConditionTypeTime:
		cfg = &TimeConditionConfig{}
	case models.ConditionTypeLocation:
		cfg = &LocationConditionConfig{}
	case models.ConditionTypeDevice:
		cfg = &DeviceConditionConfig{}
	case models.ConditionTypeIPRange:
		cfg = &IPRangeConditionConfig{}
	default:
		return nil, fmt.Errorf("condition: unknown type %q", conditionType)
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("condition: decode %s config: %w", conditionType, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EvaluateConditions applies AND semantics over the supplied condition rows.
// Zero conditions means no restriction. A row whose stored config no longer
// decodes fails closed rather than silently passing.
func EvaluateConditions(conds []models.PermissionCondition, ctx Context) bool {
	for i := range conds {
		cfg, err := DecodeConditionConfig(conds[i].ConditionType, conds[i].Config)
		if err != nil {
			return false
		}
		if !cfg.Evaluate(ctx) {
			return false
		}
	}
	return true
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

// pointInPolygon runs a ray cast over the polygon edges. Vertices are taken
// in order; the polygon closes itself between the last and first vertex.
func pointInPolygon(lat, lon float64, polygon []GeoPoint) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := polygon[i], polygon[j]
		if (pi.Longitude > lon) != (pj.Longitude > lon) &&
			lat < (pj.Latitude-pi.Latitude)*(lon-pi.Longitude)/(pj.Longitude-pi.Longitude)+pi.Latitude {
			inside = !inside
		}
	}
	return inside
}
