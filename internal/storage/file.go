package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "woprnotify/pkg/logx"
)

// maxKept bounds the in-memory tail replayed from the journal.
const maxKept = MaxListLimit * 2

// fileStore appends notifications to <prefix>.notifications.jsonl and serves
// reads from an in-memory tail.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	tail []Notification
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journal := filepath.Join(dir, base+".notifications.jsonl")

	tail, err := replayJournal(journal, log)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", journal), logx.Int("replayed", len(tail)))
	return &fileStore{log: log, f: f, tail: tail}, nil
}

func replayJournal(path string, log logx.Logger) ([]Notification, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Notification
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	skipped := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			skipped++
			continue
		}
		out = append(out, n)
		if len(out) > maxKept {
			out = out[len(out)-maxKept:]
		}
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal lines", logx.Int("count", skipped))
	}
	return out, sc.Err()
}

func (s *fileStore) AppendNotification(ctx context.Context, n Notification) error {
	if s == nil {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.tail = append(s.tail, n)
	if len(s.tail) > maxKept {
		s.tail = append([]Notification(nil), s.tail[len(s.tail)-maxKept:]...)
	}
	return nil
}

func (s *fileStore) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, min(limit, len(s.tail)))
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
