package storage

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a moderation or admin action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ID      string    `json:"id"`
	Actor   string    `json:"actor"`
	Chat    string    `json:"chat"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
	Details string    `json:"details,omitempty"`
}

// Audit actions.
const (
	ActionModerationRemove = "moderation.remove"
	ActionModerationWarn   = "moderation.warn"
	ActionCommandKick      = "command.kick"
	ActionCommandSchedule  = "command.schedule"
	ActionBroadcastFired   = "broadcast.fired"
)

// maxAuditText bounds the free-text fields of one audit entry (bytes).
const maxAuditText = 1024

// normalized fills the timestamp and id and clips free text, so both drivers
// store the same shape.
func (e AuditEntry) normalized() AuditEntry {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Error = clipText(e.Error, maxAuditText)
	e.Details = clipText(e.Details, maxAuditText)
	return e
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
