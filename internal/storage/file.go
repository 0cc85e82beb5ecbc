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

	logx "timesyncd/pkg/logx"
)

// tailLimit bounds the in-memory event tail kept by the file backend.
const tailLimit = 500

// fileStore is a dependency-free persistence backend.
//
// It appends events to <prefix>.sync.jsonl and keeps a bounded in-memory
// tail so RecentSyncs doesn't rescan the file.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
	tail []SyncEvent // oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".sync.jsonl"
	tail, err := loadTail(eventsPath, tailLimit)
	if err != nil {
		log.Warn("sync history unreadable; starting empty", logx.String("path", eventsPath), logx.Err(err))
		tail = nil
	}

	f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, file: f, tail: tail}, nil
}

// loadTail replays the jsonl file and keeps the newest max entries.
// Unparseable lines are skipped.
func loadTail(path string, max int) ([]SyncEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []SyncEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e SyncEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, e)
		if len(out) > max {
			out = out[len(out)-max:]
		}
	}
	return out, sc.Err()
}

func (s *fileStore) AppendSync(ctx context.Context, e SyncEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("sync history file closed")
	}
	enc := json.NewEncoder(s.file)
	if err := enc.Encode(e); err != nil {
		return err
	}
	s.tail = append(s.tail, e)
	if len(s.tail) > tailLimit {
		s.tail = s.tail[len(s.tail)-tailLimit:]
	}
	return nil
}

func (s *fileStore) RecentSyncs(ctx context.Context, n int) ([]SyncEvent, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.tail) {
		n = len(s.tail)
	}
	// newest first
	out := make([]SyncEvent, 0, n)
	for i := len(s.tail) - 1; i >= len(s.tail)-n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
