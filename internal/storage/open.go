package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "groupbot/pkg/logx"
)

// Store is the minimal persistence API used by the agent.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Seen reports whether key holds an unexpired dedup mark. A nil store never has marks.
func Seen(ctx context.Context, st Store, key string, now time.Time) (bool, error) {
	if st == nil {
		return false, nil
	}
	until, ok, err := st.GetDedup(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return until.After(now), nil
}

// Audit appends e best-effort; failures are logged, never returned.
func Audit(ctx context.Context, st Store, log logx.Logger, e AuditEntry) {
	if st == nil {
		return
	}
	if err := st.AppendAudit(ctx, e); err != nil && !log.IsZero() {
		log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
