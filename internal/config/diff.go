package config

import (
	"reflect"
	"strings"

	logx "groupbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Transport (never log token)
	if oldCfg.Transport.Token != newCfg.Transport.Token ||
		strings.TrimSpace(oldCfg.Transport.PollTimeout) != strings.TrimSpace(newCfg.Transport.PollTimeout) ||
		oldCfg.Transport.SendRatePerSec != newCfg.Transport.SendRatePerSec ||
		strings.TrimSpace(oldCfg.Transport.ActionTimeout) != strings.TrimSpace(newCfg.Transport.ActionTimeout) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.Bool("transport.token_changed", oldCfg.Transport.Token != newCfg.Transport.Token),
			logx.String("transport.poll_timeout", strings.TrimSpace(newCfg.Transport.PollTimeout)),
			logx.Int("transport.send_rate_per_sec", newCfg.Transport.SendRatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Session, newCfg.Session) {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.String("session.auth_dir", newCfg.Session.AuthDir),
			logx.String("session.backoff_min", newCfg.Session.BackoffMin),
			logx.String("session.backoff_max", newCfg.Session.BackoffMax),
		)
	}

	// Word list content stays out of logs.
	if !reflect.DeepEqual(oldCfg.Moderation.ForbiddenWords, newCfg.Moderation.ForbiddenWords) {
		changed = append(changed, "moderation")
		attrs = append(attrs, logx.Int("moderation.forbidden_words", len(newCfg.Moderation.ForbiddenWords)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file.enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat.enabled", newCfg.Logging.Chat.Enabled),
			logx.String("logging.chat.min_level", newCfg.Logging.Chat.MinLevel),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "transport", "session", "moderation", "storage":
			out = append(out, s)
		}
	}
	return out
}
