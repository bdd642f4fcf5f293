package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatwarmer/internal/eventbus"
	logx "chatwarmer/pkg/logx"
)

func newTestManager(t *testing.T) (*Manager, *MemoryNetwork) {
	t.Helper()
	net := NewMemoryNetwork()
	m := NewManager(net, nil, logx.Nop())
	net.SetDeliveryHandler(m.Deliver)
	return m, net
}

func TestConnectAndSend(t *testing.T) {
	m, net := newTestManager(t)
	net.Record()
	ctx := context.Background()

	if err := m.Connect(ctx, "a1", "+15551230001"); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(ctx, "a2", "+15551230002"); err != nil {
		t.Fatal(err)
	}
	if st := m.State("a1"); st != StateConnected {
		t.Fatalf("state = %v", st)
	}

	var mu sync.Mutex
	var got []Incoming
	m.SetIncomingHandler(func(in Incoming) {
		mu.Lock()
		got = append(got, in)
		mu.Unlock()
	})

	if err := m.Send(ctx, "a1", "+15551230002", "hello"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].AccountID != "a2" || got[0].From != "+15551230001" {
		t.Fatalf("incoming = %+v", got)
	}
	if sent := net.Sent(); len(sent) != 1 || sent[0].Body != "hello" {
		t.Fatalf("sent log = %+v", sent)
	}
}

func TestSendNotConnected(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Send(context.Background(), "ghost", "+15551230001", "x")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestGroupFanout(t *testing.T) {
	m, net := newTestManager(t)
	ctx := context.Background()
	for i, addr := range []string{"+15551230001", "+15551230002", "+15551230003"} {
		if err := m.Connect(ctx, []string{"a1", "a2", "a3"}[i], addr); err != nil {
			t.Fatal(err)
		}
	}
	net.AddGroup("Watzapia", "a1", "a2", "a3")

	var mu sync.Mutex
	var got []Incoming
	m.SetIncomingHandler(func(in Incoming) {
		mu.Lock()
		got = append(got, in)
		mu.Unlock()
	})

	if err := m.SendToGroup(ctx, "a1", "Watzapia", "hi all"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	// Sender is excluded from fanout.
	if len(got) != 2 {
		t.Fatalf("fanout reached %d accounts, want 2", len(got))
	}
	for _, in := range got {
		if in.AccountID == "a1" {
			t.Fatal("sender must not receive its own group message")
		}
	}
}

func TestGroupNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx, "a1", "+15551230001"); err != nil {
		t.Fatal(err)
	}
	if err := m.SendToGroup(ctx, "a1", "nope", "x"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("want ErrGroupNotFound, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx, "a1", "+15551230001"); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect("a1"); err != nil {
		t.Fatal(err)
	}
	if m.Connected("a1") {
		t.Fatal("still connected after disconnect")
	}
	if err := m.Disconnect("a1"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("want ErrUnknownAccount, got %v", err)
	}
}

func TestStateEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	net := NewMemoryNetwork()
	m := NewManager(net, bus, logx.Nop())
	if err := m.Connect(context.Background(), "a1", "+15551230001"); err != nil {
		t.Fatal(err)
	}

	// connecting -> authenticated -> connected
	states := map[State]bool{}
	timeout := time.After(2 * time.Second)
	for len(states) < 3 {
		select {
		case ev := <-ch:
			if ev.Type != eventbus.TypeAccountState {
				continue
			}
			sc, ok := ev.Data.(StateChange)
			if !ok {
				t.Fatalf("payload %T", ev.Data)
			}
			states[sc.State] = true
		case <-timeout:
			t.Fatalf("timed out; saw %v", states)
		}
	}
	for _, want := range []State{StateConnecting, StateAuthenticated, StateConnected} {
		if !states[want] {
			t.Fatalf("missing state %v in %v", want, states)
		}
	}
}

func TestFailSends(t *testing.T) {
	m, net := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx, "a1", "+15551230001"); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	net.FailSends(boom)
	if err := m.Send(ctx, "a1", "+15551230002", "x"); !errors.Is(err, boom) {
		t.Fatalf("want injected error, got %v", err)
	}
	net.FailSends(nil)
	if err := m.Send(ctx, "a1", "+15551230002", "x"); err != nil {
		t.Fatalf("sends should recover: %v", err)
	}
}
