package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "groupbot/pkg/logx"
)

// compactEvery is the number of dedup writes between snapshots. Broadcast
// marks live two minutes, so the journal stays short.
const compactEvery = 256

var errFileStoreClosed = errors.New("storage: file store closed")

// fileStore keeps everything in plain files next to cfg.Path:
//
//	<prefix>.audit.jsonl  one AuditEntry per line, append only
//	<prefix>.dedup.json   snapshot of live marks
//	<prefix>.dedup.jsonl  marks written since the snapshot
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	audit *os.File
	marks *markJournal
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	audit, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	marks, err := openMarkJournal(prefix+".dedup.json", prefix+".dedup.jsonl", log)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}
	return &fileStore{log: log, audit: audit, marks: marks}, nil
}

// Close snapshots the dedup marks so the next open has no journal to replay.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.marks != nil {
		errs = append(errs, s.marks.compact(time.Now()), s.marks.close())
		s.marks = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	line, err := json.Marshal(e.normalized())
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errFileStoreClosed
	}
	_, err = s.audit.Write(line)
	return err
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks == nil {
		return errFileStoreClosed
	}
	return s.marks.put(key, until)
}

// GetDedup reports live marks only; expired ones are forgotten on read.
func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks == nil {
		return time.Time{}, false, errFileStoreClosed
	}
	until, ok := s.marks.get(key, time.Now())
	return until, ok, nil
}

// markJournal is an in-memory dedup map backed by a snapshot plus a journal.
type markJournal struct {
	log          logx.Logger
	snapshotPath string
	journal      *os.File
	until        map[string]int64 // unix milli
	writes       int
}

type markRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openMarkJournal(snapshotPath, journalPath string, log logx.Logger) (*markJournal, error) {
	j := &markJournal{log: log, snapshotPath: snapshotPath, until: map[string]int64{}}
	if err := j.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable; starting empty", logx.String("path", snapshotPath), logx.Err(err))
	}
	if err := j.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal replay stopped early", logx.String("path", journalPath), logx.Err(err))
	}
	j.prune(time.Now())

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	j.journal = f
	return j, nil
}

func (j *markJournal) loadSnapshot() error {
	b, err := os.ReadFile(j.snapshotPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &j.until)
}

// replay applies journal records over the snapshot. A torn last line is skipped.
func (j *markJournal) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r markRecord
		if json.Unmarshal(sc.Bytes(), &r) != nil || r.Key == "" {
			continue
		}
		j.until[r.Key] = r.Until
	}
	return sc.Err()
}

func (j *markJournal) put(key string, until time.Time) error {
	rec := markRecord{Key: key, Until: until.UnixMilli()}
	j.until[key] = rec.Until
	if err := json.NewEncoder(j.journal).Encode(rec); err != nil {
		return err
	}
	j.writes++
	if j.writes%compactEvery == 0 {
		if err := j.compact(time.Now()); err != nil {
			j.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (j *markJournal) get(key string, now time.Time) (time.Time, bool) {
	ms, ok := j.until[key]
	if !ok {
		return time.Time{}, false
	}
	if ms < now.UnixMilli() {
		delete(j.until, key)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (j *markJournal) prune(now time.Time) {
	cut := now.UnixMilli()
	for k, v := range j.until {
		if v < cut {
			delete(j.until, k)
		}
	}
}

// compact writes live marks to the snapshot (tmp + rename) and empties the journal.
func (j *markJournal) compact(now time.Time) error {
	if j.journal == nil {
		return nil
	}
	j.prune(now)
	b, err := json.Marshal(j.until)
	if err != nil {
		return err
	}
	tmp := j.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapshotPath); err != nil {
		return err
	}
	if err := j.journal.Truncate(0); err != nil {
		return err
	}
	_, err = j.journal.Seek(0, io.SeekEnd)
	return err
}

func (j *markJournal) close() error {
	if j.journal == nil {
		return nil
	}
	err := j.journal.Close()
	j.journal = nil
	return err
}
