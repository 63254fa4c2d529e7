package iot

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"adhiba.xyz/iot-climate-service/pkg/common"
)

const (
	DefaultMaxDevices        = 1000
	DefaultBatteryThreshold  = 3.5
	DefaultAlertCooldown     = time.Hour
	DefaultWriteRetryBackoff = 50 * time.Millisecond
	DefaultTimezone          = "Asia/Kolkata"
	DefaultRate              = 10
	DefaultBurst             = 20
)

type Settings struct {
	MaxDevices        int
	BatteryThreshold  float64
	AlertCooldown     time.Duration
	AlertEmail        string
	Location          *time.Location
	WriteRetryBackoff time.Duration
	DeviceAPIKey      string
	DefaultRate       rate.Limit
	DefaultBurst      int
}

func DefaultSettings() Settings {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return Settings{
		MaxDevices:        DefaultMaxDevices,
		BatteryThreshold:  DefaultBatteryThreshold,
		AlertCooldown:     DefaultAlertCooldown,
		Location:          loc,
		WriteRetryBackoff: DefaultWriteRetryBackoff,
		DefaultRate:       DefaultRate,
		DefaultBurst:      DefaultBurst,
	}
}

// LoadSettingsFromEnv reads every IOT_* tuning key, reporting all malformed values at once.
func LoadSettingsFromEnv() (Settings, error) {
	s := DefaultSettings()
	var errs error

	check := func(key string, err error) bool {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s: %w", key, err))
			return false
		}
		return true
	}

	if v, err := common.EnvInt(common.EnvKeyIOTMaxDevices, DefaultMaxDevices); check(common.EnvKeyIOTMaxDevices, err) {
		if v < 1 {
			check(common.EnvKeyIOTMaxDevices, fmt.Errorf("must be positive, got %d", v))
		} else {
			s.MaxDevices = v
		}
	}

	if v, err := common.EnvFloat(common.EnvKeyIOTBatteryThreshold, DefaultBatteryThreshold); check(common.EnvKeyIOTBatteryThreshold, err) {
		s.BatteryThreshold = v
	}

	if v, err := common.EnvDuration(common.EnvKeyIOTAlertCooldown, DefaultAlertCooldown); check(common.EnvKeyIOTAlertCooldown, err) {
		if v <= 0 {
			check(common.EnvKeyIOTAlertCooldown, fmt.Errorf("must be positive, got %s", v))
		} else {
			s.AlertCooldown = v
		}
	}

	if v, err := common.EnvDuration(common.EnvKeyIOTWriteRetryBackoff, DefaultWriteRetryBackoff); check(common.EnvKeyIOTWriteRetryBackoff, err) {
		s.WriteRetryBackoff = v
	}

	tz := common.EnvOr(common.EnvKeyIOTTimezone, DefaultTimezone)
	if loc, err := time.LoadLocation(tz); check(common.EnvKeyIOTTimezone, err) {
		s.Location = loc
	}

	if v, err := common.EnvFloat(common.EnvKeyIOTDefaultRate, DefaultRate); check(common.EnvKeyIOTDefaultRate, err) {
		s.DefaultRate = rate.Limit(v)
	}

	if v, err := common.EnvInt(common.EnvKeyIOTDefaultBurst, DefaultBurst); check(common.EnvKeyIOTDefaultBurst, err) {
		s.DefaultBurst = v
	}

	s.AlertEmail = common.EnvOr(common.EnvKeyIOTAlertEmail, "")
	s.DeviceAPIKey = common.EnvOr(common.EnvKeyIOTDeviceAPIKey, "")

	return s, errs
}
