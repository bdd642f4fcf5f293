package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatwarmer/internal/api"
	"chatwarmer/internal/catalog"
	"chatwarmer/internal/config"
	"chatwarmer/internal/directory"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/metrics"
	"chatwarmer/internal/notifier"
	"chatwarmer/internal/quota"
	"chatwarmer/internal/runtime/supervisor"
	"chatwarmer/internal/storage"
	"chatwarmer/internal/transport"
	"chatwarmer/internal/warmer"
	logx "chatwarmer/pkg/logx"
)

const defaultListenAddr = "127.0.0.1:8380"

// StopReason tags why the daemon is going down; it only affects logging.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

// App wires the daemon: config, logging, storage, the account directory,
// the template catalog, transport, the warming engine and the HTTP API.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	dir  *directory.Directory
	cat  *catalog.Catalog
	net  *transport.MemoryNetwork
	conn *transport.Manager
	warm *warmer.Service
	rec  *metrics.Recorder

	quota *quota.Service
	notif *notifier.Service
	api   *api.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	logSvc, log := logx.New(mapLogging(cfg.Logging), bus)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ctx := context.Background()

	var store storage.Store
	if sc, err := mapStorage(cfg.Storage); err != nil {
		return nil, err
	} else if st, err := storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	} else if st != nil {
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dir, err := directory.New(ctx, store, log.With(logx.String("comp", "accounts")))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(ctx, store, log.With(logx.String("comp", "templates")))
	if err != nil {
		return nil, err
	}
	if loc, lerr := time.LoadLocation(cfg.Warmer.Timezone); lerr == nil {
		cat.SetTimezone(loc)
	}

	rec := metrics.NewRecorder()

	// The loopback network stands in for a real chat transport; accounts
	// message each other in-process. A production dialer satisfies the same
	// transport.Dialer interface.
	net := transport.NewMemoryNetwork()
	conn := transport.NewManager(net, bus, log.With(logx.String("comp", "transport")))

	warm, err := warmer.New(cfg.Warmer, warmer.Deps{
		Accounts:  dir,
		Conn:      conn,
		Messenger: conn,
		Catalog:   cat,
		History:   store,
		Bus:       bus,
		Metrics:   rec,
		Log:       log.With(logx.String("comp", "warmer")),
	})
	if err != nil {
		return nil, err
	}

	quotaSvc := quota.New(bus, rec, log.With(logx.String("comp", "quota")))
	notifSvc := notifier.New(bus, log.With(logx.String("comp", "alerts")))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		dir:   dir,
		cat:   cat,
		net:   net,
		conn:  conn,
		warm:  warm,
		rec:   rec,
		quota: quotaSvc,
		notif: notifSvc,
	}

	if cfg.Server.Enabled {
		addr := strings.TrimSpace(cfg.Server.Addr)
		if addr == "" {
			addr = defaultListenAddr
		}
		a.api = api.NewServer(addr, api.Deps{
			Config:    cfgm,
			Directory: dir,
			Catalog:   cat,
			Warmer:    warm,
			Transport: conn,
			History:   store,
			Quota:     quotaSvc,
			Bus:       bus,
			Metrics:   rec.Handler(),
			Log:       log,
			// a.sup is nil until Start; Counters tolerates a nil receiver.
			Runtime: func() supervisor.Counters { return a.sup.Counters() },
		})
	}

	conn.SetIncomingHandler(func(in transport.Incoming) {
		log.Debug("incoming message",
			logx.String("account", in.AccountID),
			logx.String("from", in.From),
		)
	})

	return a, nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if err := a.quota.Apply(cfg.Quota, cfg.Warmer.Timezone); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if err := a.notif.Apply(cfg.Alerts); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	a.syncGroups(cfg)
	a.connectAccounts(a.sup.Context())

	if a.api != nil {
		a.sup.Go("api.serve", func(context.Context) error {
			return a.api.Start()
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("transport.track", a.trackConnections)

	a.log.Info("app started")
	return nil
}

// connectAccounts brings every registered account online at boot.
func (a *App) connectAccounts(ctx context.Context) {
	n := 0
	for _, acc := range a.dir.List() {
		if err := a.conn.Connect(ctx, acc.ID, acc.Address); err != nil {
			a.log.Warn("connect failed", logx.String("account", acc.ID), logx.Err(err))
			continue
		}
		n++
	}
	a.rec.SetConnected(n)
	if n > 0 {
		a.log.Info("accounts connected", logx.Int("count", n))
	}
}

// syncGroups keeps the loopback group rosters aligned with the registry.
func (a *App) syncGroups(cfg *config.Config) {
	list := a.dir.List()
	ids := make([]string, 0, len(list))
	for _, acc := range list {
		ids = append(ids, acc.ID)
	}
	for _, g := range []string{cfg.Warmer.Groups.Primary, cfg.Warmer.Groups.Secondary} {
		if g != "" {
			a.net.AddGroup(g, ids...)
		}
	}
}

// trackConnections mirrors live connection counts into the metrics gauge and
// refreshes group rosters as accounts come and go.
func (a *App) trackConnections(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
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
			n := 0
			for _, st := range a.conn.States() {
				if st == transport.StateConnected {
					n++
				}
			}
			a.rec.SetConnected(n)
			a.syncGroups(a.cfgm.Get())
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("warmer", 2*time.Second, func(context.Context) error {
		if a.warm.Active() {
			_, err := a.warm.StopWarming()
			return err
		}
		return nil
	})
	if a.api != nil {
		step("api", 3*time.Second, func(c context.Context) error { return a.api.Shutdown(c) })
	}
	step("quota", 1*time.Second, func(context.Context) error { a.quota.Stop(); return nil })
	step("alerts", 2*time.Second, func(context.Context) error { a.notif.Stop(); return nil })
	step("transport", 2*time.Second, func(context.Context) error { return a.conn.Close() })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Stream: logx.StreamConfig{
			Enabled:    lc.Stream.Enabled,
			MinLevel:   lc.Stream.MinLevel,
			RatePerSec: lc.Stream.RatePerSec,
		},
	}
}

func mapStorage(sc config.StorageConfig) (storage.Config, error) {
	out := storage.Config{Driver: sc.Driver, Path: sc.Path}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	out.BusyTimeout = busy
	return out, nil
}
