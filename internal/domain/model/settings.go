package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SettingAutoSignEnabled     = "auto_sign_enabled"
	SettingAutoSignTime        = "auto_sign_time"
	SettingRetryEnabled        = "sign_retry_enabled"
	SettingMaxRetries          = "sign_max_retries"
	SettingRetryInterval       = "sign_retry_interval"
	SettingHealthCheckEnabled  = "health_check_enabled"
	SettingHealthCheckInterval = "health_check_interval"
)

type ScheduleSettings struct {
	AutoSignEnabled     bool
	AutoSignTime        string
	RetryEnabled        bool
	MaxRetries          int
	RetryIntervalMin    int
	HealthCheckEnabled  bool
	HealthCheckInterval int
}

func DefaultScheduleSettings() ScheduleSettings {
	return ScheduleSettings{
		AutoSignEnabled:     false,
		AutoSignTime:        "08:00",
		RetryEnabled:        true,
		MaxRetries:          3,
		RetryIntervalMin:    30,
		HealthCheckEnabled:  true,
		HealthCheckInterval: 6,
	}
}

func (s ScheduleSettings) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMin) * time.Minute
}

func (s ScheduleSettings) HealthInterval() time.Duration {
	return time.Duration(s.HealthCheckInterval) * time.Hour
}

// ClockTime parses AutoSignTime as HH:MM.
func (s ScheduleSettings) ClockTime() (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s.AutoSignTime), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid sign time %q", s.AutoSignTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in sign time %q", s.AutoSignTime)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in sign time %q", s.AutoSignTime)
	}
	return hour, minute, nil
}

// NextDaily returns the next instant at or after now matching AutoSignTime in loc.
func (s ScheduleSettings) NextDaily(now time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, err := s.ClockTime()
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if next.Before(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
