package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "chatwarmer/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- accounts ----

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, notes, warming, burst_limit, pause_seconds, created_at, updated_at FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var warming int
		var created, updated string
		if err := rows.Scan(&a.ID, &a.Name, &a.Address, &a.Notes, &warming, &a.BurstLimit, &a.PauseSeconds, &created, &updated); err != nil {
			return nil, err
		}
		a.Warming = warming != 0
		a.CreatedAt = parseRFC3339(created)
		a.UpdatedAt = parseRFC3339(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutAccount(ctx context.Context, a Account) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, name, address, notes, warming, burst_limit, pause_seconds, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, address=excluded.address, notes=excluded.notes,
		   warming=excluded.warming, burst_limit=excluded.burst_limit,
		   pause_seconds=excluded.pause_seconds, updated_at=excluded.updated_at`,
		a.ID, a.Name, a.Address, a.Notes, boolInt(a.Warming), a.BurstLimit, a.PauseSeconds,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- templates ----

func (s *sqliteStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, variations, active, usage_count, last_used_at, created_at FROM templates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var active int
		var variations string
		var lastUsed, created sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &variations, &active, &t.UsageCount, &lastUsed, &created); err != nil {
			return nil, err
		}
		t.Active = active != 0
		if err := json.Unmarshal([]byte(variations), &t.Variations); err != nil {
			s.log.Debug("template variations decode failed", logx.String("id", t.ID), logx.Err(err))
		}
		if lastUsed.Valid {
			t.LastUsedAt = parseRFC3339(lastUsed.String)
		}
		if created.Valid {
			t.CreatedAt = parseRFC3339(created.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutTemplate(ctx context.Context, t Template) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	variations, err := json.Marshal(t.Variations)
	if err != nil {
		return err
	}
	var lastUsed any
	if !t.LastUsedAt.IsZero() {
		lastUsed = t.LastUsedAt.Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates(id, name, category, variations, active, usage_count, last_used_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, category=excluded.category, variations=excluded.variations,
		   active=excluded.active, usage_count=excluded.usage_count, last_used_at=excluded.last_used_at`,
		t.ID, t.Name, t.Category, string(variations), boolInt(t.Active), t.UsageCount, lastUsed,
		t.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- history ----

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, account_id, recipient, mode, kind, template, body, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.AccountID, e.Recipient, e.Mode, e.Kind,
		nullStr(e.Template), nullStr(e.Body), nullStr(e.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.pruneHistory(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > HistoryCap {
		limit = HistoryCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, account_id, recipient, mode, kind, template, body, err
		 FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var at string
		var tmpl, body, errStr sql.NullString
		if err := rows.Scan(&at, &e.AccountID, &e.Recipient, &e.Mode, &e.Kind, &tmpl, &body, &errStr); err != nil {
			return nil, err
		}
		e.At = parseRFC3339(at)
		e.Template = tmpl.String
		e.Body = body.String
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		HistoryCap)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func parseRFC3339(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
