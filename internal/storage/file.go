package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "inquiryrelay/pkg/logx"
)

// fileStore keeps the delivery log in <prefix>.deliveries.jsonl and mirrors
// it in memory. Prune rewrites the file through a temp file and rename.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	f       *os.File
	records []DeliveryRecord // append order
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(dir, base) + ".deliveries.jsonl"

	records, err := loadJSONL(logPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("delivery log opened", logx.String("path", logPath), logx.Int("records", len(records)))
	return &fileStore{log: log, path: logPath, f: f, records: records}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendDelivery(_ context.Context, r DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *fileStore) RecentDeliveries(_ context.Context, limit int) ([]DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	out := make([]DeliveryRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.After(out[j].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) CountOutcomes(_ context.Context, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	out := map[string]int{}
	for _, r := range s.records {
		if !r.SettledAt.Before(since) {
			out[r.Outcome]++
		}
	}
	return out, nil
}

func (s *fileStore) PruneBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}

	keep := s.records[:0:0]
	for _, r := range s.records {
		if !r.SettledAt.Before(t) {
			keep = append(keep, r)
		}
	}
	removed := int64(len(s.records) - len(keep))
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	if err := writeJSONL(tmp, keep); err != nil {
		return 0, err
	}
	if err := s.f.Close(); err != nil {
		s.log.Debug("delivery log close failed", logx.Err(err))
	}
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, s.reopen(err)
	}
	if err := s.reopen(nil); err != nil {
		return 0, err
	}
	s.records = keep
	return removed, nil
}

// reopen restores the append handle; cause is returned when non-nil.
func (s *fileStore) reopen(cause error) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Join(cause, err)
	}
	s.f = f
	return cause
}

func writeJSONL(path string, records []DeliveryRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// loadJSONL skips lines that do not decode; a torn last line after a crash is
// expected.
func loadJSONL(path string) ([]DeliveryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []DeliveryRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
