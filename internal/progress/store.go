// Package progress persists the per-account checkpoint: the position of the
// last message whose attachments were written. Every mutation is flushed to
// disk before returning, so a crash loses at most the message in flight.
package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/emailflesh/internal/model"
)

const (
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".progress-*.json.tmp"
)

// PersistenceError reports a failed read or write of the progress file.
// It never stops a run: the in-memory state stays authoritative.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err (or any error in its chain) is a
// PersistenceError.
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

// document is the on-disk shape:
//
//	{"emails": {"<account>": {"last_processed": 12, "last_updated": 1712345678.9}}}
type document struct {
	Emails map[string]entry `json:"emails"`
}

type entry struct {
	LastProcessed int     `json:"last_processed"`
	LastUpdated   float64 `json:"last_updated"`
}

// Store maps account → checkpoint, mirrored to a JSON file.
type Store struct {
	path    string
	log     logrus.FieldLogger
	now     func() time.Time
	mu      sync.Mutex
	records map[string]model.ProgressRecord
}

// Load reads the progress file at path. A missing file yields an empty
// store which is written out immediately. An empty file is treated as
// fresh. Unreadable or malformed content is logged and replaced by an empty
// in-memory store; the bad file is left alone until the next Save.
func Load(path string, log logrus.FieldLogger) *Store {
	s := &Store{
		path:    path,
		log:     log.WithField("progress_file", path),
		now:     time.Now,
		records: make(map[string]model.ProgressRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("no progress file, starting fresh")
		if err := s.flushLocked(); err != nil {
			s.log.WithError(err).Warn("failed to create progress file")
		}
		return s
	case err != nil:
		s.log.WithError(err).Error("failed to read progress file, starting fresh")
		return s
	}

	if len(bytes.TrimSpace(data)) == 0 {
		s.log.Info("progress file is empty, starting fresh")
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.WithError(err).Error("failed to parse progress file, starting fresh")
		return s
	}

	for account, e := range doc.Emails {
		if e.LastProcessed < 0 {
			e.LastProcessed = 0
		}
		s.records[account] = model.ProgressRecord{
			Account:       account,
			LastProcessed: e.LastProcessed,
			LastUpdated:   fromEpoch(e.LastUpdated),
		}
	}

	return s
}

// Path returns the file the store mirrors to.
func (s *Store) Path() string {
	return s.path
}

// Get returns the last processed position for account, or 0.
func (s *Store) Get(account string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.records[account].LastProcessed
}

// Record returns the full record for account.
func (s *Store) Record(account string) (model.ProgressRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[account]
	return rec, ok
}

// All returns every record ordered by account.
func (s *Store) All() []model.ProgressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ProgressRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Save upserts the checkpoint for account and flushes the whole document.
// The in-memory value advances even when the write fails; the returned
// *PersistenceError has already been logged.
func (s *Store) Save(account string, index int) error {
	if index < 0 {
		index = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[account] = model.ProgressRecord{
		Account:       account,
		LastProcessed: index,
		LastUpdated:   s.now(),
	}

	if err := s.flushLocked(); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"account": account,
			"index":   index,
		}).Error("failed to save progress")
		return err
	}
	return nil
}

// Reset removes the record for account and flushes. It reports false
// when there was nothing to reset; that is not an error.
func (s *Store) Reset(account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[account]; !ok {
		return false, nil
	}
	delete(s.records, account)

	if err := s.flushLocked(); err != nil {
		s.log.WithError(err).WithField("account", account).Error("failed to save progress after reset")
		return true, err
	}
	return true, nil
}

// flushLocked writes the document through a temp file and rename so a
// crash mid-write leaves the previous checkpoint intact.
func (s *Store) flushLocked() error {
	doc := document{Emails: make(map[string]entry, len(s.records))}
	for account, rec := range s.records {
		doc.Emails[account] = entry{
			LastProcessed: rec.LastProcessed,
			LastUpdated:   toEpoch(rec.LastUpdated),
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return &PersistenceError{Op: "create", Path: s.path, Err: err}
	}

	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return &PersistenceError{Op: "chmod", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &PersistenceError{Op: "replace", Path: s.path, Err: err}
	}

	cleanup = false
	return nil
}

func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func fromEpoch(f float64) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}
