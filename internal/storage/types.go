package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "chatwarmer/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// HistoryCap bounds the retained send history. Older entries are pruned.
const HistoryCap = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshots + append-only history journal under Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the daemon runs
// in-memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Account is a persisted chat account record.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`

	// Warming marks the account as eligible for warming cycles.
	Warming bool `json:"warming"`

	// Per-account throttle overrides; 0 means use the global setting.
	BurstLimit   int `json:"burst_limit,omitempty"`
	PauseSeconds int `json:"pause_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Template is a persisted message template with interchangeable variations.
type Template struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Variations []string `json:"variations"`
	Active     bool     `json:"active"`

	UsageCount int       `json:"usage_count"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryEntry records one delivered (or failed) warming message.
type HistoryEntry struct {
	At        time.Time `json:"at"`
	AccountID string    `json:"account_id"`
	Recipient string    `json:"recipient"`
	Mode      string    `json:"mode"` // "direct" or "group"
	Kind      string    `json:"kind"` // "cycle" or "reply"
	Template  string    `json:"template,omitempty"`
	Body      string    `json:"body,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Store is the persistence API used by directory, catalog and the warmer.
type Store interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	PutAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id string) error

	ListTemplates(ctx context.Context) ([]Template, error)
	PutTemplate(ctx context.Context, t Template) error
	DeleteTemplate(ctx context.Context, id string) error

	AppendHistory(ctx context.Context, e HistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)

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
