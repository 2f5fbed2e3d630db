package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Defaults applied when fields are omitted.
const (
	DefaultAuthDir       = "auth_info"
	DefaultPollTimeout   = 10 * time.Second
	DefaultActionTimeout = 15 * time.Second
	DefaultBackoffMin    = time.Second
	DefaultBackoffMax    = 2 * time.Minute
	DefaultTick          = "@every 1m"
	DefaultSendRate      = 20
)

var DefaultForbiddenWords = []string{"badword1", "badword2"}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ApplyDefaults fills omitted fields in place.
// An explicitly empty forbidden_words list disables moderation.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Session.AuthDir) == "" {
		c.Session.AuthDir = DefaultAuthDir
	}
	if c.Moderation.ForbiddenWords == nil {
		c.Moderation.ForbiddenWords = append([]string(nil), DefaultForbiddenWords...)
	}
	if strings.TrimSpace(c.Scheduler.Tick) == "" {
		c.Scheduler.Tick = DefaultTick
	}
	if c.Transport.SendRatePerSec == 0 {
		c.Transport.SendRatePerSec = DefaultSendRate
	}
}

// Validate checks struct tags plus the fields that need parsing
// (durations, time zone, backoff window).
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for path, raw := range c.durationFields() {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if _, _, err := c.Backoff(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if tick := strings.TrimSpace(c.Scheduler.Tick); tick != "" {
		if _, err := cron.ParseStandard(tick); err != nil {
			return fmt.Errorf("scheduler.tick: invalid %q: %w", tick, err)
		}
	}
	if t := strings.TrimSpace(c.Logging.Chat.Target); c.Logging.Chat.Enabled && !strings.Contains(t, "@") {
		return fmt.Errorf("logging.chat.target: %q is not a user@server identifier", t)
	}
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d != "" && d != "none" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required when storage.driver=%s", d)
	}
	return nil
}

// Backoff returns the reconnect backoff window.
func (c *Config) Backoff() (min, max time.Duration, err error) {
	min, err = ParseDurationOrDefault("session.backoff_min", c.Session.BackoffMin, DefaultBackoffMin)
	if err != nil {
		return 0, 0, err
	}
	max, err = ParseDurationOrDefault("session.backoff_max", c.Session.BackoffMax, DefaultBackoffMax)
	if err != nil {
		return 0, 0, err
	}
	if max < min {
		return 0, 0, fmt.Errorf("session.backoff_max (%s) must be >= session.backoff_min (%s)", max, min)
	}
	return min, max, nil
}

// Location resolves scheduler.timezone (empty means local time).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
