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

	logx "chatwarmer/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files under the configured directory:
//   - accounts.json   (atomic snapshot, rewritten on change)
//   - templates.json  (atomic snapshot, rewritten on change)
//   - history.jsonl   (append-only JSON Lines, compacted past HistoryCap)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dir string

	accounts  map[string]Account
	templates map[string]Template

	historyFile   *os.File
	history       []HistoryEntry
	historyWrites int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		dir:       dir,
		accounts:  map[string]Account{},
		templates: map[string]Template{},
	}

	_ = loadSnapshot(s.accountsPath(), &s.accounts)
	_ = loadSnapshot(s.templatesPath(), &s.templates)

	if err := s.loadHistory(); err != nil {
		return nil, err
	}

	hf, err := os.OpenFile(s.historyPath(), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.historyFile = hf
	return s, nil
}

func (s *fileStore) accountsPath() string  { return filepath.Join(s.dir, "accounts.json") }
func (s *fileStore) templatesPath() string { return filepath.Join(s.dir, "templates.json") }
func (s *fileStore) historyPath() string   { return filepath.Join(s.dir, "history.jsonl") }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile != nil {
		err := s.historyFile.Close()
		s.historyFile = nil
		return err
	}
	return nil
}

// ---- accounts ----

func (s *fileStore) ListAccounts(ctx context.Context) ([]Account, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *fileStore) PutAccount(ctx context.Context, a Account) error {
	_ = ctx
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return writeSnapshot(s.accountsPath(), s.accounts)
}

func (s *fileStore) DeleteAccount(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, id)
	return writeSnapshot(s.accountsPath(), s.accounts)
}

// ---- templates ----

func (s *fileStore) ListTemplates(ctx context.Context) ([]Template, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out, nil
}

func (s *fileStore) PutTemplate(ctx context.Context, t Template) error {
	_ = ctx
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return writeSnapshot(s.templatesPath(), s.templates)
}

func (s *fileStore) DeleteTemplate(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return ErrNotFound
	}
	delete(s.templates, id)
	return writeSnapshot(s.templatesPath(), s.templates)
}

// ---- history ----

func (s *fileStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.historyFile).Encode(e); err != nil {
		return err
	}
	s.history = append(s.history, e)
	if len(s.history) > HistoryCap {
		s.history = s.history[len(s.history)-HistoryCap:]
	}
	s.historyWrites++
	if s.historyWrites%1000 == 0 {
		// Best-effort compact; the in-memory view stays authoritative.
		if err := s.compactHistoryLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	// Newest first.
	out := make([]HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *fileStore) compactHistoryLocked() error {
	tmp := s.historyPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range s.history {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.historyFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.historyPath()); err != nil {
		return err
	}
	hf, err := os.OpenFile(s.historyPath(), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	s.historyFile = hf
	return nil
}

func (s *fileStore) loadHistory() error {
	f, err := os.Open(s.historyPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		s.history = append(s.history, e)
	}
	if len(s.history) > HistoryCap {
		s.history = s.history[len(s.history)-HistoryCap:]
	}
	return sc.Err()
}

// ---- snapshot helpers ----

func loadSnapshot[T any](path string, out *map[string]T) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]T
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		(*out)[k] = v
	}
	return nil
}

func writeSnapshot[T any](path string, m map[string]T) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
