package quota

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatwarmer/internal/config"
	"chatwarmer/internal/eventbus"
	logx "chatwarmer/pkg/logx"
)

func TestClientRemainingAllowance(t *testing.T) {
	var gotCookie atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotCookie.Store(r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"remaining": 17, "limit": 50}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "session=abc", 10)
	n, err := c.RemainingAllowance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 17 {
		t.Fatalf("remaining = %d, want 17", n)
	}
	if gotCookie.Load() != "session=abc" {
		t.Fatalf("cookie = %v", gotCookie.Load())
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 10)
	if _, err := c.RemainingAllowance(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestClientReset(t *testing.T) {
	var resets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/devices/reset" && r.Method == http.MethodPost {
			resets.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 10)
	if err := c.ResetDeviceLimit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if resets.Load() != 1 {
		t.Fatalf("resets = %d", resets.Load())
	}
}

func TestServicePollPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"remaining": 5}`))
	}))
	defer srv.Close()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(bus, nil, logx.Nop())
	err := s.Apply(&config.QuotaConfig{
		Enabled:      true,
		BaseURL:      srv.URL,
		PollInterval: "1h", // only the immediate first fetch matters here
		RatePerSec:   10,
	}, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeQuotaUpdate {
			t.Fatalf("event type %q", ev.Type)
		}
		a, ok := ev.Data.(Allowance)
		if !ok || a.Remaining != 5 {
			t.Fatalf("payload %+v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no allowance event published")
	}

	if s.Last().Remaining != 5 {
		t.Fatalf("last = %+v", s.Last())
	}
}

func TestServiceDisabled(t *testing.T) {
	s := New(nil, nil, logx.Nop())
	if err := s.Apply(nil, "UTC"); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(&config.QuotaConfig{Enabled: false}, "UTC"); err != nil {
		t.Fatal(err)
	}
	s.Stop()
}

func TestServiceReapplyRestartsPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"remaining": 7}`))
	}))
	defer srv.Close()

	bus := eventbus.New()
	s := New(bus, nil, logx.Nop())
	defer s.Stop()

	qc := &config.QuotaConfig{Enabled: true, BaseURL: srv.URL, PollInterval: "1h", RatePerSec: 10}
	if err := s.Apply(qc, "UTC"); err != nil {
		t.Fatal(err)
	}

	// Re-apply with a different interval while the first loop is running.
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	qc2 := *qc
	qc2.PollInterval = "30m"
	if err := s.Apply(&qc2, "UTC"); err != nil {
		t.Fatal(err)
	}

	// The replacement loop fetches immediately.
	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeQuotaUpdate {
			t.Fatalf("event type %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no allowance event after re-apply")
	}
	if s.Last().Remaining != 7 {
		t.Fatalf("last = %+v", s.Last())
	}
}
