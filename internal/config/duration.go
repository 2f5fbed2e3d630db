package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero. A bare
// number is rejected with a hint, since "30" reads as seconds to most
// operators and as nanoseconds to time.ParseDuration.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n != 0 {
		return 0, fmt.Errorf("%s: duration %q is missing a unit, e.g. \"%ds\"", path, raw, n)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with zero mapped to def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// durationFields lists the duration-typed settings by config path.
func (c *Config) durationFields() map[string]string {
	return map[string]string{
		"transport.poll_timeout":   c.Transport.PollTimeout,
		"transport.action_timeout": c.Transport.ActionTimeout,
		"session.backoff_min":      c.Session.BackoffMin,
		"session.backoff_max":      c.Session.BackoffMax,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
	}
}
