package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryNetwork is an in-process loopback transport. Every dialed account
// joins a shared switchboard; direct sends are delivered to the account that
// owns the target address, group sends fan out to all group members.
//
// Used by the dev/demo driver and by tests. It exercises the full send and
// receive paths without an external chat network.
type MemoryNetwork struct {
	mu       sync.RWMutex
	byAddr   map[string]*memoryClient // address -> client
	byID     map[string]*memoryClient
	groups   map[string][]string // group name -> member account ids
	deliver  func(Incoming)
	sendErr  error
	sentLog  []SentRecord
	recorded bool
}

// SentRecord captures one delivered message for inspection.
type SentRecord struct {
	AccountID string
	To        string // address or group name
	Group     bool
	Body      string
	At        time.Time
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		byAddr: map[string]*memoryClient{},
		byID:   map[string]*memoryClient{},
		groups: map[string][]string{},
	}
}

// SetDeliveryHandler wires inbound delivery, usually Manager.Deliver.
func (n *MemoryNetwork) SetDeliveryHandler(h func(Incoming)) {
	n.mu.Lock()
	n.deliver = h
	n.mu.Unlock()
}

// AddGroup registers a named group with the given member account ids.
func (n *MemoryNetwork) AddGroup(name string, memberIDs ...string) {
	n.mu.Lock()
	n.groups[name] = append([]string(nil), memberIDs...)
	n.mu.Unlock()
}

// FailSends makes every subsequent send return err (nil restores normal
// operation). Test hook.
func (n *MemoryNetwork) FailSends(err error) {
	n.mu.Lock()
	n.sendErr = err
	n.mu.Unlock()
}

// Record enables capture of every delivered message.
func (n *MemoryNetwork) Record() {
	n.mu.Lock()
	n.recorded = true
	n.mu.Unlock()
}

// Sent returns captured messages (requires Record).
func (n *MemoryNetwork) Sent() []SentRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]SentRecord(nil), n.sentLog...)
}

func (n *MemoryNetwork) Dial(ctx context.Context, accountID, address string, onState func(State, string)) (Client, error) {
	_ = ctx
	if onState != nil {
		// Loopback has no QR pairing; go straight to authenticated.
		onState(StateAuthenticated, "")
	}
	cl := &memoryClient{net: n, accountID: accountID, address: address}
	n.mu.Lock()
	n.byAddr[address] = cl
	n.byID[accountID] = cl
	n.mu.Unlock()
	return cl, nil
}

type memoryClient struct {
	net       *MemoryNetwork
	accountID string
	address   string
	closed    bool
	mu        sync.Mutex
}

func (c *memoryClient) Send(ctx context.Context, to, body string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	n := c.net

	n.mu.Lock()
	if n.sendErr != nil {
		err := n.sendErr
		n.mu.Unlock()
		return err
	}
	target := n.byAddr[strings.TrimSpace(to)]
	deliver := n.deliver
	if n.recorded {
		n.sentLog = append(n.sentLog, SentRecord{
			AccountID: c.accountID, To: to, Body: body, At: time.Now(),
		})
	}
	n.mu.Unlock()

	if target != nil && deliver != nil {
		deliver(Incoming{
			AccountID: target.accountID,
			From:      c.address,
			Body:      body,
			At:        time.Now(),
		})
	}
	return nil
}

func (c *memoryClient) SendToGroup(ctx context.Context, group, body string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	n := c.net

	n.mu.Lock()
	if n.sendErr != nil {
		err := n.sendErr
		n.mu.Unlock()
		return err
	}
	members, ok := n.groups[group]
	if !ok {
		n.mu.Unlock()
		return ErrGroupNotFound
	}
	deliver := n.deliver
	if n.recorded {
		n.sentLog = append(n.sentLog, SentRecord{
			AccountID: c.accountID, To: group, Group: true, Body: body, At: time.Now(),
		})
	}
	targets := make([]*memoryClient, 0, len(members))
	for _, id := range members {
		if m := n.byID[id]; m != nil && m.accountID != c.accountID {
			targets = append(targets, m)
		}
	}
	n.mu.Unlock()

	if deliver != nil {
		for _, m := range targets {
			deliver(Incoming{
				AccountID: m.accountID,
				From:      c.address,
				Body:      body,
				At:        time.Now(),
			})
		}
	}
	return nil
}

func (c *memoryClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	n := c.net
	n.mu.Lock()
	delete(n.byAddr, c.address)
	delete(n.byID, c.accountID)
	n.mu.Unlock()
	return nil
}

func (c *memoryClient) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	return nil
}
