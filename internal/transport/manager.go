package transport

import (
	"context"
	"fmt"
	"sync"

	"chatwarmer/internal/eventbus"
	logx "chatwarmer/pkg/logx"
)

// StateChange is the bus payload published on eventbus.TypeAccountState.
type StateChange struct {
	AccountID string `json:"account_id"`
	State     State  `json:"state"`
	Detail    string `json:"detail,omitempty"`
}

// Manager owns one Client per connected account and tracks its state.
type Manager struct {
	dialer Dialer
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.RWMutex
	clients map[string]Client
	states  map[string]State

	onIncoming IncomingHandler
}

func NewManager(dialer Dialer, bus eventbus.Bus, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		dialer:  dialer,
		bus:     bus,
		log:     log,
		clients: map[string]Client{},
		states:  map[string]State{},
	}
}

// SetIncomingHandler installs the inbound message callback. Must be called
// before Connect.
func (m *Manager) SetIncomingHandler(h IncomingHandler) {
	m.mu.Lock()
	m.onIncoming = h
	m.mu.Unlock()
}

// Deliver routes an inbound message to the installed handler. Dialers call
// this from their receive paths.
func (m *Manager) Deliver(in Incoming) {
	m.mu.RLock()
	h := m.onIncoming
	m.mu.RUnlock()
	if h != nil {
		h(in)
	}
}

// Connect dials the account and tracks its connection state.
func (m *Manager) Connect(ctx context.Context, accountID, address string) error {
	m.mu.RLock()
	_, exists := m.clients[accountID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	m.setState(accountID, StateConnecting, "")
	cl, err := m.dialer.Dial(ctx, accountID, address, func(st State, detail string) {
		m.setState(accountID, st, detail)
	})
	if err != nil {
		m.setState(accountID, StateError, err.Error())
		return fmt.Errorf("dial %s: %w", accountID, err)
	}

	m.mu.Lock()
	m.clients[accountID] = cl
	m.mu.Unlock()
	m.setState(accountID, StateConnected, "")
	return nil
}

func (m *Manager) Disconnect(accountID string) error {
	m.mu.Lock()
	cl, ok := m.clients[accountID]
	delete(m.clients, accountID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownAccount
	}
	err := cl.Close()
	m.setState(accountID, StateDisconnected, "")
	return err
}

// Send delivers a direct message through the account's connection.
func (m *Manager) Send(ctx context.Context, accountID, to, body string) error {
	cl, err := m.client(accountID)
	if err != nil {
		return err
	}
	return cl.Send(ctx, to, body)
}

// SendToGroup delivers a group message through the account's connection.
func (m *Manager) SendToGroup(ctx context.Context, accountID, group, body string) error {
	cl, err := m.client(accountID)
	if err != nil {
		return err
	}
	return cl.SendToGroup(ctx, group, body)
}

func (m *Manager) client(accountID string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cl, ok := m.clients[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, accountID)
	}
	return cl, nil
}

// State returns the last observed connection state for the account.
func (m *Manager) State(accountID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[accountID]; ok {
		return st
	}
	return StateDisconnected
}

// States returns a snapshot of all tracked account states.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Connected reports whether the account has a live client.
func (m *Manager) Connected(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[accountID]
	return ok
}

// Close disconnects all accounts.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = map[string]Client{}
	m.mu.Unlock()

	var first error
	for id, cl := range clients {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
		m.setState(id, StateDisconnected, "")
	}
	return first
}

func (m *Manager) setState(accountID string, st State, detail string) {
	m.mu.Lock()
	prev := m.states[accountID]
	m.states[accountID] = st
	m.mu.Unlock()
	if prev == st {
		return
	}
	m.log.Debug("account state",
		logx.String("account", accountID),
		logx.String("state", string(st)),
	)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAccountState,
			Data: StateChange{AccountID: accountID, State: st, Detail: detail},
		})
		// Detail carries the pairing challenge while a scan is pending.
		if st == StateQRPending && detail != "" {
			m.bus.Publish(eventbus.Event{
				Type: eventbus.TypeAccountQR,
				Data: StateChange{AccountID: accountID, State: st, Detail: detail},
			})
		}
	}
}
