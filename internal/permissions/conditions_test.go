package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/oakhurst/backoffice/internal/models"
)

func TestEvaluateConditionsNoConditionsPasses(t *testing.T) {
	require.True(t, EvaluateConditions(nil, Context{Timestamp: time.Now()}))
	require.True(t, EvaluateConditions([]models.PermissionCondition{}, Context{}))
}

func TestTimeConditionWindow(t *testing.T) {
	cfg := &TimeConditionConfig{
		TimeStart: "09:00",
		TimeEnd:   "17:00",
		Timezone:  "UTC",
	}
	require.NoError(t, cfg.Validate())

	inside := time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC) // Monday
	outside := time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)

	require.True(t, cfg.Evaluate(Context{Timestamp: inside}))
	require.False(t, cfg.Evaluate(Context{Timestamp: outside}))
}

func TestTimeConditionTimezoneProjection(t *testing.T) {
	cfg := &TimeConditionConfig{
		TimeStart: "09:00",
		TimeEnd:   "17:00",
		Timezone:  "America/New_York",
	}
	require.NoError(t, cfg.Validate())

	// 14:00 UTC is 09:00 or 10:00 in New York depending on DST; either way
	// inside the window. 02:00 UTC is late evening the previous day.
	require.True(t, cfg.Evaluate(Context{Timestamp: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}))
	require.False(t, cfg.Evaluate(Context{Timestamp: time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)}))
}

func TestTimeConditionDaysOfWeek(t *testing.T) {
	cfg := &TimeConditionConfig{DaysOfWeek: []int{1, 2, 3, 4, 5}} // weekdays
	require.NoError(t, cfg.Validate())

	monday := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

	require.True(t, cfg.Evaluate(Context{Timestamp: monday}))
	require.False(t, cfg.Evaluate(Context{Timestamp: sunday}))
}

func TestTimeConditionOvernightWindow(t *testing.T) {
	cfg := &TimeConditionConfig{TimeStart: "22:00", TimeEnd: "06:00"}
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Evaluate(Context{Timestamp: time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)}))
	require.True(t, cfg.Evaluate(Context{Timestamp: time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)}))
	require.False(t, cfg.Evaluate(Context{Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}))
}

func TestTimeConditionValidation(t *testing.T) {
	require.Error(t, (&TimeConditionConfig{}).Validate())
	require.Error(t, (&TimeConditionConfig{TimeStart: "09:00"}).Validate())
	require.Error(t, (&TimeConditionConfig{TimeStart: "9am", TimeEnd: "17:00"}).Validate())
	require.Error(t, (&TimeConditionConfig{DaysOfWeek: []int{0}}).Validate())
	require.Error(t, (&TimeConditionConfig{DaysOfWeek: []int{8}}).Validate())
	require.Error(t, (&TimeConditionConfig{DaysOfWeek: []int{1}, Timezone: "Mars/Olympus"}).Validate())
}

func TestLocationConditionFailsClosedWithoutGeo(t *testing.T) {
	cfg := &LocationConditionConfig{Countries: []string{"DE"}}
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.Evaluate(Context{Timestamp: time.Now()}))
}

func TestLocationConditionAllowLists(t *testing.T) {
	cfg := &LocationConditionConfig{Countries: []string{"DE", "AT"}, Cities: []string{"Berlin"}}
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "de", City: "berlin"}}))
	require.False(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "DE", City: "Munich"}}))
	require.False(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "FR", City: "Berlin"}}))
}

func TestLocationConditionGeoFence(t *testing.T) {
	// Rough square around central Berlin.
	cfg := &LocationConditionConfig{GeoFence: []GeoPoint{
		{Latitude: 52.45, Longitude: 13.30},
		{Latitude: 52.45, Longitude: 13.50},
		{Latitude: 52.58, Longitude: 13.50},
		{Latitude: 52.58, Longitude: 13.30},
	}}
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Evaluate(Context{Geo: &GeoLocation{Latitude: 52.52, Longitude: 13.40}}))
	require.False(t, cfg.Evaluate(Context{Geo: &GeoLocation{Latitude: 48.13, Longitude: 11.58}}))
}

func TestLocationConditionAllowListOrGeoFence(t *testing.T) {
	cfg := &LocationConditionConfig{
		Countries: []string{"DE"},
		GeoFence: []GeoPoint{
			{Latitude: 52.45, Longitude: 13.30},
			{Latitude: 52.45, Longitude: 13.50},
			{Latitude: 52.58, Longitude: 13.50},
			{Latitude: 52.58, Longitude: 13.30},
		},
	}
	require.NoError(t, cfg.Validate())

	// Allow-listed country outside the fence still passes.
	require.True(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "DE", Latitude: 48.13, Longitude: 11.58}}))
	// Inside the fence passes regardless of country.
	require.True(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "FR", Latitude: 52.52, Longitude: 13.40}}))
	// Neither axis matches.
	require.False(t, cfg.Evaluate(Context{Geo: &GeoLocation{Country: "FR", Latitude: 48.13, Longitude: 11.58}}))
}

func TestDeviceConditionFailsClosedWithoutDevice(t *testing.T) {
	cfg := &DeviceConditionConfig{CorporateDeviceOnly: true}
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.Evaluate(Context{}))
}

func TestDeviceCondition(t *testing.T) {
	cfg := &DeviceConditionConfig{
		DeviceTypes:         []string{"laptop"},
		OperatingSystems:    []string{"macOS", "Windows"},
		CorporateDeviceOnly: true,
	}
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Evaluate(Context{Device: &DeviceInfo{DeviceType: "laptop", OS: "macos", IsCorporate: true}}))
	require.False(t, cfg.Evaluate(Context{Device: &DeviceInfo{DeviceType: "phone", OS: "macos", IsCorporate: true}}))
	require.False(t, cfg.Evaluate(Context{Device: &DeviceInfo{DeviceType: "laptop", OS: "linux", IsCorporate: true}}))
	require.False(t, cfg.Evaluate(Context{Device: &DeviceInfo{DeviceType: "laptop", OS: "macos", IsCorporate: false}}))
}

func TestIPRangeCondition(t *testing.T) {
	cfg := &IPRangeConditionConfig{AllowedCIDRs: []string{"10.0.0.0/8", "192.168.1.0/24"}}
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Evaluate(Context{IPAddress: "10.1.2.3"}))
	require.True(t, cfg.Evaluate(Context{IPAddress: "192.168.1.77"}))
	require.False(t, cfg.Evaluate(Context{IPAddress: "8.8.8.8"}))
	require.False(t, cfg.Evaluate(Context{IPAddress: "not-an-ip"}))
	require.False(t, cfg.Evaluate(Context{}), "missing IP fails closed")
}

func TestIPRangeConditionValidation(t *testing.T) {
	require.Error(t, (&IPRangeConditionConfig{}).Validate())
	require.Error(t, (&IPRangeConditionConfig{AllowedCIDRs: []string{"10.0.0.0"}}).Validate())
}

func TestDecodeConditionConfig(t *testing.T) {
	cfg, err := DecodeConditionConfig(models.ConditionTypeIPRange, []byte(`{"allowed_cidrs":["10.0.0.0/8"]}`))
	require.NoError(t, err)
	require.Equal(t, models.ConditionTypeIPRange, cfg.Type())

	_, err = DecodeConditionConfig("geo", []byte(`{}`))
	require.Error(t, err)

	_, err = DecodeConditionConfig(models.ConditionTypeTime, []byte(`{"time_start":"nope","time_end":"17:00"}`))
	require.Error(t, err)
}

func TestEvaluateConditionsANDSemantics(t *testing.T) {
	conds := []models.PermissionCondition{
		{
			ConditionType: models.ConditionTypeIPRange,
			Config:        datatypes.JSON([]byte(`{"allowed_cidrs":["10.0.0.0/8"]}`)),
		},
		{
			ConditionType: models.ConditionTypeTime,
			Config:        datatypes.JSON([]byte(`{"time_start":"09:00","time_end":"17:00"}`)),
		},
	}

	during := Context{Timestamp: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), IPAddress: "10.0.0.5"}
	after := Context{Timestamp: time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC), IPAddress: "10.0.0.5"}
	wrongIP := Context{Timestamp: during.Timestamp, IPAddress: "8.8.8.8"}

	require.True(t, EvaluateConditions(conds, during))
	require.False(t, EvaluateConditions(conds, after), "one failing condition denies")
	require.False(t, EvaluateConditions(conds, wrongIP))
}

func TestEvaluateConditionsUndecodableConfigFailsClosed(t *testing.T) {
	conds := []models.PermissionCondition{{
		ConditionType: models.ConditionTypeDevice,
		Config:        datatypes.JSON([]byte(`{`)),
	}}
	require.False(t, EvaluateConditions(conds, Context{Device: &DeviceInfo{DeviceType: "laptop"}}))
}
