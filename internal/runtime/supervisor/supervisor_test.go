package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoPropagatesErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("worker", func(context.Context) error { return boom })

	if err := s.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want wrapped boom", err)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context not canceled after first error")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(context.Context) error { panic("kaput") })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "panic in worker") {
		t.Fatalf("Wait = %v, want panic error", err)
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int64
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int64
	s.GoRestart("loop", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	// Let the loop start before tearing it down.
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 (no restart after cancel)", got)
	}
}

func TestCounters(t *testing.T) {
	var nilSup *Supervisor
	if c := nilSup.Counters(); c != (Counters{}) {
		t.Fatalf("nil counters = %+v", c)
	}

	s := New(context.Background())
	gate := make(chan struct{})
	for i := 0; i < 2; i++ {
		s.Go0("blocked", func(context.Context) { <-gate })
	}

	c := s.Counters()
	if c.Active != 2 || c.Started != 2 {
		t.Fatalf("counters = %+v, want active=2 started=2", c)
	}

	close(gate)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if c := s.Counters(); c.Active != 0 || c.Started != 2 {
		t.Fatalf("counters after drain = %+v", c)
	}
}
