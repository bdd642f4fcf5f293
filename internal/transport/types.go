package transport

import (
	"context"
	"errors"
	"time"
)

// State tracks an account's connection lifecycle.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateQRPending     State = "qr_pending"
	StateAuthenticated State = "authenticated"
	StateConnected     State = "connected"
	StateAuthFailed    State = "auth_failed"
	StateError         State = "error"
)

var (
	ErrNotConnected   = errors.New("account not connected")
	ErrUnknownAccount = errors.New("unknown account")
	ErrSendFailed     = errors.New("send failed")
	ErrGroupNotFound  = errors.New("group not found")
)

// Incoming is a message received on a connected account.
type Incoming struct {
	AccountID string
	From      string // sender address
	Body      string
	At        time.Time
}

// IncomingHandler receives inbound messages. Handlers must not block.
type IncomingHandler func(Incoming)

// Client is a live connection for one account.
type Client interface {
	// Send delivers a direct message to the given address.
	Send(ctx context.Context, to, body string) error
	// SendToGroup delivers a message to a named group the account belongs to.
	SendToGroup(ctx context.Context, group, body string) error
	Close() error
}

// Dialer opens connections for accounts. Implementations report connection
// progress through the callback before Dial returns or asynchronously after.
type Dialer interface {
	Dial(ctx context.Context, accountID, address string, onState func(State, string)) (Client, error)
}
