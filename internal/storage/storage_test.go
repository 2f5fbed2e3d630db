package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, nopLog)
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, nopLog); err == nil {
		t.Fatalf("unknown driver must fail")
	}
}

func TestFileStoreDedupSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()
	now := time.Now()

	st, err := Open(Config{Driver: "file", Path: path}, nopLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.PutDedup(ctx, "live", now.Add(time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutDedup(ctx, "expired", now.Add(-time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, nopLog)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	if ok, err := Seen(ctx, st, "live", now); err != nil || !ok {
		t.Fatalf("live key: ok=%v err=%v", ok, err)
	}
	if ok, _ := Seen(ctx, st, "expired", now); ok {
		t.Fatalf("expired key must not be seen")
	}
	if ok, _ := Seen(ctx, st, "missing", now); ok {
		t.Fatalf("missing key must not be seen")
	}
}

func TestFileStoreAuditAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, nopLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	Audit(context.Background(), st, nopLog, AuditEntry{Actor: "1@c.us", Chat: "2@g.us", Action: ActionCommandKick, OK: true})
	Audit(context.Background(), st, nopLog, AuditEntry{Actor: "1@c.us", Chat: "2@g.us", Action: ActionModerationRemove, Error: "denied"})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer f.Close()

	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].ID == "" || got[0].At.IsZero() {
		t.Fatalf("entry not normalized: %+v", got[0])
	}
	if got[1].Action != ActionModerationRemove || got[1].OK {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
}

func TestFileStoreClipsAuditText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, nopLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	long := strings.Repeat("é", maxAuditText)
	if err := st.AppendAudit(context.Background(), AuditEntry{Action: ActionModerationWarn, Details: long}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	var e AuditEntry
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(e.Details) != maxAuditText || !utf8.ValidString(e.Details) {
		t.Fatalf("details len=%d valid=%v", len(e.Details), utf8.ValidString(e.Details))
	}
}

func TestFileStoreCloseCompactsJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")
	ctx := context.Background()
	now := time.Now()

	st, err := Open(Config{Driver: "file", Path: path}, nopLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.PutDedup(ctx, "live", now.Add(time.Hour))
	_ = st.PutDedup(ctx, "gone", now.Add(-time.Hour))
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if fi, err := os.Stat(filepath.Join(dir, "bot.dedup.jsonl")); err != nil || fi.Size() != 0 {
		t.Fatalf("journal not emptied: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "bot.dedup.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap map[string]int64
	if err := json.Unmarshal(b, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if _, ok := snap["live"]; !ok || len(snap) != 1 {
		t.Fatalf("snapshot = %v, want only the live mark", snap)
	}

	// A torn trailing journal line is skipped on the next open.
	if err := os.WriteFile(filepath.Join(dir, "bot.dedup.jsonl"), []byte(`{"key":"x","unt`), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	st, err = Open(Config{Driver: "file", Path: path}, nopLog)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if ok, _ := Seen(ctx, st, "live", now); !ok {
		t.Fatalf("live mark lost across compaction")
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "groupbot.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, nopLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	for i := 0; i < 3; i++ {
		if err := st.AppendAudit(ctx, AuditEntry{Actor: "a", Chat: "c", Action: ActionCommandSchedule, OK: true}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	n, err := st.(*sqliteStore).CountAudit(ctx, ActionCommandSchedule)
	if err != nil || n != 3 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}

	now := time.Now()
	if err := st.PutDedup(ctx, "k", now.Add(time.Minute)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutDedup(ctx, "k", now.Add(-time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ok, err := Seen(ctx, st, "k", now); err != nil || ok {
		t.Fatalf("upserted key should be expired: ok=%v err=%v", ok, err)
	}
}

func TestSeenNilStore(t *testing.T) {
	t.Parallel()

	ok, err := Seen(context.Background(), nil, "k", time.Now())
	if ok || err != nil {
		t.Fatalf("nil store: ok=%v err=%v", ok, err)
	}
}
