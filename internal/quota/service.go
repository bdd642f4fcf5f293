package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chatwarmer/internal/config"
	"chatwarmer/internal/eventbus"
	logx "chatwarmer/pkg/logx"
)

// Allowance is the bus payload published on eventbus.TypeQuotaUpdate.
type Allowance struct {
	Remaining int       `json:"remaining"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Gauge receives the latest allowance reading; satisfied by metrics.Recorder.
type Gauge interface {
	SetAllowance(n int)
}

// Service polls the external allowance and performs the daily device-limit
// reset. Best effort: failures are logged and retried on the next tick, the
// warming engine never depends on it.
type Service struct {
	bus   eventbus.Bus
	gauge Gauge
	log   logx.Logger

	mu      sync.Mutex
	client  *Client
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool

	last Allowance
}

func New(bus eventbus.Bus, gauge Gauge, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{bus: bus, gauge: gauge, log: log.With(logx.String("svc", "quota"))}
}

// Apply reconfigures the service, starting or stopping it as needed.
func (s *Service) Apply(qc *config.QuotaConfig, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if qc == nil || !qc.Enabled {
		return nil
	}

	poll, err := config.ParseDurationOrDefault("quota.poll_interval", qc.PollInterval, 5*time.Minute)
	if err != nil {
		return err
	}
	s.client = NewClient(qc.BaseURL, qc.Cookie, qc.RatePerSec)

	loc := time.Local
	if tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			loc = l
		}
	}
	if rt := qc.ResetTime; rt != "" {
		min, perr := config.ParseHHMM(rt)
		if perr != nil {
			return perr
		}
		c := cron.New(cron.WithLocation(loc))
		spec := fmt.Sprintf("%d %d * * *", min%60, min/60)
		if _, cerr := c.AddFunc(spec, s.resetDaily); cerr != nil {
			return cerr
		}
		s.cron = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	if s.cron != nil {
		s.cron.Start()
	}
	go s.pollLoop(ctx, poll)
	s.log.Info("quota polling enabled", logx.Duration("interval", poll))
	return nil
}

// Stop halts polling and the reset schedule.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Last returns the most recent allowance reading.
func (s *Service) Last() Allowance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// The interval is fixed for the loop's lifetime; Apply starts a new loop.
func (s *Service) pollLoop(ctx context.Context, interval time.Duration) {
	// First reading right away, then on the interval.
	s.fetch(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.fetch(ctx)
		}
	}
}

func (s *Service) fetch(ctx context.Context) {
	s.mu.Lock()
	cl := s.client
	s.mu.Unlock()
	if cl == nil {
		return
	}

	remaining, err := cl.RemainingAllowance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("allowance fetch failed", logx.Err(err))
		}
		return
	}

	reading := Allowance{Remaining: remaining, FetchedAt: time.Now()}
	s.mu.Lock()
	s.last = reading
	s.mu.Unlock()

	if s.gauge != nil {
		s.gauge.SetAllowance(remaining)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeQuotaUpdate, Data: reading})
	}
}

func (s *Service) resetDaily() {
	s.mu.Lock()
	cl := s.client
	s.mu.Unlock()
	if cl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cl.ResetDeviceLimit(ctx); err != nil {
		s.log.Warn("daily device reset failed", logx.Err(err))
		return
	}
	s.log.Info("daily device limit reset")
}
