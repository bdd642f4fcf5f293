package warmer

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"chatwarmer/internal/catalog"
	"chatwarmer/internal/config"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/storage"
	logx "chatwarmer/pkg/logx"
)

// AccountSource yields warming-enabled accounts. The returned slice is
// owned by the caller and may be filtered in place; implementations must
// hand out a fresh copy on every call.
type AccountSource interface {
	Eligible() []storage.Account
}

// ConnState reports whether an account currently holds a live connection.
type ConnState interface {
	Connected(accountID string) bool
}

// Messenger delivers messages on behalf of an account.
type Messenger interface {
	Send(ctx context.Context, accountID, to, body string) error
	SendToGroup(ctx context.Context, accountID, group, body string) error
}

// Renderer produces outgoing message text.
type Renderer interface {
	RenderAny(ctx context.Context, vars map[string]string) (catalog.Rendered, error)
	Reply(name string) string
}

// Recorder receives counters for observability. Implementations must be cheap.
type Recorder interface {
	CycleCompleted(mode string)
	MessageSent(mode, kind string)
	SendSkipped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(string)  {}
func (nopRecorder) MessageSent(_, _ string) {}
func (nopRecorder) SendSkipped(string)     {}

// Deps bundles the collaborators the warmer drives.
type Deps struct {
	Accounts  AccountSource
	Conn      ConnState
	Messenger Messenger
	Catalog   Renderer

	History storage.Store // optional; nil skips history recording
	Bus     eventbus.Bus  // optional
	Metrics Recorder      // optional
	Log     logx.Logger

	Clock clockwork.Clock // nil means the real clock
	Intn  func(n int) int // nil means math/rand
}

// Service is the warming engine: it owns the session lifecycle, the cycle
// cadence and the per-account throttling.
type Service struct {
	accounts AccountSource
	conn     ConnState
	msgr     Messenger
	catalog  Renderer
	history  storage.Store
	bus      eventbus.Bus
	metrics  Recorder
	log      logx.Logger

	clock clockwork.Clock
	intn  func(n int) int

	mu       sync.Mutex
	cfg      config.WarmerConfig
	loc      *time.Location
	startMin int // working-hours start, minutes since midnight
	endMin   int

	active bool
	cancel context.CancelFunc
	modes  *modeSelector
	rates  *rateLimiter
	cycles atomic.Uint64

	pendingReplies atomic.Int64
}

// StartInfo is returned to the caller when a session begins.
type StartInfo struct {
	AccountCount       int `json:"account_count"`
	MinIntervalSeconds int `json:"min_interval_seconds"`
	MaxIntervalSeconds int `json:"max_interval_seconds"`
}

// StopInfo is returned when a session ends.
type StopInfo struct {
	QueuedReplies int `json:"queued_replies"`
}

// Status is the live session snapshot exposed over the API.
type Status struct {
	Active         bool `json:"active"`
	ConnectedCount int  `json:"connected_count"`

	// NextIntervalEstimateSeconds is a fresh random draw within the interval
	// bounds, not the actually scheduled delay. Display only.
	NextIntervalEstimateSeconds int `json:"next_interval_estimate_seconds"`

	WithinWorkingHours bool   `json:"within_working_hours"`
	CyclesCompleted    uint64 `json:"cycles_completed"`
	PendingReplies     int64  `json:"pending_replies"`
}

// SessionEvent is the bus payload published on eventbus.TypeWarmerState.
type SessionEvent struct {
	Active       bool `json:"active"`
	AccountCount int  `json:"account_count,omitempty"`
}

func New(cfg config.WarmerConfig, deps Deps) (*Service, error) {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Intn == nil {
		deps.Intn = rand.Intn
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	s := &Service{
		accounts: deps.Accounts,
		conn:     deps.Conn,
		msgr:     deps.Messenger,
		catalog:  deps.Catalog,
		history:  deps.History,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		log:      deps.Log.With(logx.String("svc", "warmer")),
		clock:    deps.Clock,
		intn:     deps.Intn,
		modes:    &modeSelector{intn: deps.Intn},
	}
	s.rates = newRateLimiter(deps.Clock)
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply swaps the pacing configuration. Interval and working-hours changes
// take effect on the next scheduling decision, never retroactively.
func (s *Service) Apply(cfg config.WarmerConfig) error {
	loc := time.Local
	if tz := cfg.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}
	startMin, err := config.ParseHHMM(cfg.WorkingHours.Start)
	if err != nil {
		return err
	}
	endMin, err := config.ParseHHMM(cfg.WorkingHours.End)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.loc = loc
	s.startMin = startMin
	s.endMin = endMin
	s.mu.Unlock()
	return nil
}

// StartWarming begins a session. It requires at least two eligible accounts.
func (s *Service) StartWarming() (StartInfo, error) {
	eligible := s.eligibleConnected()

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return StartInfo{}, ErrAlreadyActive
	}
	if len(eligible) < 2 {
		s.mu.Unlock()
		return StartInfo{}, ErrInsufficientAccounts
	}
	cfg := s.cfg
	ctx, cancel := context.WithCancel(context.Background())
	s.active = true
	s.cancel = cancel
	s.modes.reset()
	s.rates.reset()
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.log.Info("warming started",
		logx.Int("accounts", len(eligible)),
		logx.Int("min_interval_s", cfg.MinIntervalSeconds),
		logx.Int("max_interval_s", cfg.MaxIntervalSeconds),
	)
	s.publish(eventbus.TypeWarmerState, SessionEvent{Active: true, AccountCount: len(eligible)})

	return StartInfo{
		AccountCount:       len(eligible),
		MinIntervalSeconds: cfg.MinIntervalSeconds,
		MaxIntervalSeconds: cfg.MaxIntervalSeconds,
	}, nil
}

// StopWarming ends the session. Pending reply timers and per-account
// cooldowns are not part of the cadence: replies drain naturally, cooldown
// state is discarded.
func (s *Service) StopWarming() (StopInfo, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return StopInfo{}, ErrNotActive
	}
	s.active = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.rates.reset()

	queued := s.pendingReplies.Load()
	s.log.Info("warming stopped", logx.Int64("queued_replies", queued))
	s.publish(eventbus.TypeWarmerState, SessionEvent{Active: false})
	return StopInfo{QueuedReplies: int(queued)}, nil
}

// Active reports whether a session is running.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns a live snapshot.
func (s *Service) Status() Status {
	eligible := s.eligibleConnected()

	s.mu.Lock()
	active := s.active
	min, max := s.cfg.MinIntervalSeconds, s.cfg.MaxIntervalSeconds
	s.mu.Unlock()

	estimate := min
	if max > min {
		estimate = min + s.intn(max-min+1)
	}
	return Status{
		Active:                      active,
		ConnectedCount:              len(eligible),
		NextIntervalEstimateSeconds: estimate,
		WithinWorkingHours:          s.withinWorkingHours(),
		CyclesCompleted:             s.cycles.Load(),
		PendingReplies:              s.pendingReplies.Load(),
	}
}

// runLoop arms one timer per cycle. The session context is checked both while
// armed and again after the timer fires, so a cancelled session can never run
// a ghost cycle.
func (s *Service) runLoop(ctx context.Context) {
	for {
		d := s.nextDelay()
		t := s.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.Chan():
		}
		if ctx.Err() != nil {
			return
		}
		s.runCycle(ctx)
		// Re-arm unconditionally; cycle failures never break the cadence.
	}
}

// nextDelay draws uniformly from [min, max] seconds inclusive.
func (s *Service) nextDelay() time.Duration {
	s.mu.Lock()
	min, max := s.cfg.MinIntervalSeconds, s.cfg.MaxIntervalSeconds
	s.mu.Unlock()
	sec := min
	if max > min {
		sec = min + s.intn(max-min+1)
	}
	return time.Duration(sec) * time.Second
}

// withinWorkingHours evaluates the [start,end) gate in the configured zone.
// Always true when the gate is disabled.
func (s *Service) withinWorkingHours() bool {
	s.mu.Lock()
	enabled := s.cfg.WorkingHoursOnly
	loc := s.loc
	start, end := s.startMin, s.endMin
	s.mu.Unlock()
	if !enabled {
		return true
	}
	now := s.clock.Now().In(loc)
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end
}

// eligibleConnected snapshots accounts that are warming-enabled and connected.
func (s *Service) eligibleConnected() []storage.Account {
	all := s.accounts.Eligible()
	out := all[:0]
	for _, a := range all {
		if s.conn == nil || s.conn.Connected(a.ID) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
