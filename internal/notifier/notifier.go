package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatwarmer/internal/config"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/transport"
	logx "chatwarmer/pkg/logx"
)

var ErrQueueFull = errors.New("alert queue full")

// Sender delivers one alert text to the operator channel.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

// Service watches account state on the event bus and forwards operator
// alerts through a queue + rate limit + retry pipeline. Alert delivery is
// best effort; a down operator channel never affects warming.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     config.AlertsConfig
	sender  Sender
	limiter *rate.Limiter

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		bus:     bus,
		log:     log.With(logx.String("svc", "alerts")),
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// SetSender overrides the delivery mechanism. Tests inject a fake; Apply
// installs a Telegram sender when none was set explicitly.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply reconfigures and (re)starts the pipeline as needed.
func (s *Service) Apply(cfg *config.AlertsConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if cfg == nil || !cfg.Enabled {
		s.cfg = config.AlertsConfig{}
		return nil
	}
	s.cfg = *cfg

	if s.sender == nil {
		sender, err := newTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		s.sender = sender
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.queue = make(chan string, 64)

	events, unsub := s.bus.Subscribe(64)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer unsub()
		s.watch(ctx, events)
	}()
	go func() {
		defer s.wg.Done()
		s.worker(ctx, s.queue)
	}()
	s.log.Info("operator alerts enabled")
	return nil
}

// Stop halts the pipeline and drops anything still queued.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.queue = nil
	}
}

// watch maps account state changes to alert texts per the config flags.
func (s *Service) watch(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeAccountState {
				continue
			}
			sc, ok := ev.Data.(transport.StateChange)
			if !ok {
				continue
			}
			if text := s.alertText(sc); text != "" {
				s.enqueue(text)
			}
		}
	}
}

func (s *Service) alertText(sc transport.StateChange) string {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	switch sc.State {
	case transport.StateConnected:
		if cfg.OnConnect {
			return fmt.Sprintf("account %s connected", sc.AccountID)
		}
	case transport.StateDisconnected:
		if cfg.OnDisconnect {
			return fmt.Sprintf("account %s disconnected", sc.AccountID)
		}
	case transport.StateError, transport.StateAuthFailed:
		if cfg.OnError {
			if sc.Detail != "" {
				return fmt.Sprintf("account %s error: %s", sc.AccountID, sc.Detail)
			}
			return fmt.Sprintf("account %s error", sc.AccountID)
		}
	}
	return ""
}

func (s *Service) enqueue(text string) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- text:
	default:
		s.log.Debug("alert dropped", logx.Err(ErrQueueFull))
	}
}

// worker drains the queue with rate limiting and bounded retries.
func (s *Service) worker(ctx context.Context, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-queue:
			if !ok {
				return
			}
			s.deliver(ctx, text)
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	s.mu.Lock()
	sender := s.sender
	lim := s.limiter
	s.mu.Unlock()
	if sender == nil {
		return
	}

	const retryMax = 3
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		err := sender.SendAlert(ctx, text)
		if err == nil {
			return
		}
		if attempt >= retryMax || ctx.Err() != nil {
			s.log.Warn("alert delivery failed", logx.Int("attempts", attempt+1), logx.Err(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
