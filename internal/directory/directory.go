package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatwarmer/internal/storage"
	logx "chatwarmer/pkg/logx"
)

var (
	ErrNotFound         = errors.New("account not found")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrDuplicateAddress = errors.New("address already registered")
)

// E.164: optional plus, no leading zero, up to 15 digits.
var addressRe = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// Account is the registry view of a chat account.
type Account = storage.Account

// Directory is the in-memory account registry backed by optional persistence.
type Directory struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	byAddress map[string]string // normalized address -> id

	store storage.Store // nil means memory-only
	log   logx.Logger

	now func() time.Time
}

func New(ctx context.Context, store storage.Store, log logx.Logger) (*Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{
		accounts:  map[string]Account{},
		byAddress: map[string]string{},
		store:     store,
		log:       log,
		now:       time.Now,
	}
	if store != nil {
		list, err := store.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		for _, a := range list {
			d.accounts[a.ID] = a
			d.byAddress[normalizeAddress(a.Address)] = a.ID
		}
		log.Debug("accounts loaded", logx.Int("count", len(list)))
	}
	return d, nil
}

func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// ValidateAddress reports whether s is an acceptable account address.
func ValidateAddress(s string) error {
	if !addressRe.MatchString(normalizeAddress(s)) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return nil
}

// Create registers a new account. The address must be unique.
func (d *Directory) Create(ctx context.Context, name, address, notes string) (Account, error) {
	address = normalizeAddress(address)
	if err := ValidateAddress(address); err != nil {
		return Account{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, errors.New("name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byAddress[address]; exists {
		return Account{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, address)
	}

	now := d.now()
	a := Account{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   address,
		Notes:     strings.TrimSpace(notes),
		Warming:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.persistLocked(ctx, a); err != nil {
		return Account{}, err
	}
	d.accounts[a.ID] = a
	d.byAddress[address] = a.ID
	d.log.Info("account registered", logx.String("id", a.ID), logx.String("name", a.Name))
	return a, nil
}

// Update applies mutable fields (name, warming flag, throttle overrides).
// The address is immutable once registered.
func (d *Directory) Update(ctx context.Context, id string, upd AccountUpdate) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Account{}, errors.New("name is required")
		}
		a.Name = name
	}
	if upd.Notes != nil {
		a.Notes = strings.TrimSpace(*upd.Notes)
	}
	if upd.Warming != nil {
		a.Warming = *upd.Warming
	}
	if upd.BurstLimit != nil {
		if *upd.BurstLimit < 0 {
			return Account{}, errors.New("burst_limit must be >= 0")
		}
		a.BurstLimit = *upd.BurstLimit
	}
	if upd.PauseSeconds != nil {
		if *upd.PauseSeconds < 0 {
			return Account{}, errors.New("pause_seconds must be >= 0")
		}
		a.PauseSeconds = *upd.PauseSeconds
	}
	a.UpdatedAt = d.now()
	if err := d.persistLocked(ctx, a); err != nil {
		return Account{}, err
	}
	d.accounts[id] = a
	return a, nil
}

// AccountUpdate carries optional field changes; nil fields are untouched.
type AccountUpdate struct {
	Name         *string `json:"name,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	Warming      *bool   `json:"warming,omitempty"`
	BurstLimit   *int    `json:"burst_limit,omitempty"`
	PauseSeconds *int    `json:"pause_seconds,omitempty"`
}

func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if d.store != nil {
		if err := d.store.DeleteAccount(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	delete(d.accounts, id)
	delete(d.byAddress, normalizeAddress(a.Address))
	d.log.Info("account removed", logx.String("id", id))
	return nil
}

func (d *Directory) Get(id string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// List returns all accounts sorted by address.
func (d *Directory) List() []Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Eligible returns warming-enabled accounts sorted by address.
func (d *Directory) Eligible() []Account {
	all := d.List()
	out := all[:0]
	for _, a := range all {
		if a.Warming {
			out = append(out, a)
		}
	}
	return out
}

func (d *Directory) persistLocked(ctx context.Context, a Account) error {
	if d.store == nil {
		return nil
	}
	return d.store.PutAccount(ctx, a)
}

// Export serializes all accounts as a JSON array.
func (d *Directory) Export() ([]byte, error) {
	return json.MarshalIndent(d.List(), "", "  ")
}

// Import registers accounts from a JSON array, skipping duplicates.
// Returns the number imported.
func (d *Directory) Import(ctx context.Context, data []byte) (int, error) {
	var in []Account
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, fmt.Errorf("invalid import payload: %w", err)
	}
	n := 0
	for _, a := range in {
		created, err := d.Create(ctx, a.Name, a.Address, a.Notes)
		if err != nil {
			if errors.Is(err, ErrDuplicateAddress) {
				continue
			}
			return n, err
		}
		// Carry the optional fields the export included.
		if !a.Warming || a.BurstLimit != 0 || a.PauseSeconds != 0 {
			upd := AccountUpdate{
				Warming:      &a.Warming,
				BurstLimit:   &a.BurstLimit,
				PauseSeconds: &a.PauseSeconds,
			}
			if _, err := d.Update(ctx, created.ID, upd); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}
