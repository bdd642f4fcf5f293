package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwarmer/internal/catalog"
	"chatwarmer/internal/config"
	"chatwarmer/internal/directory"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/metrics"
	"chatwarmer/internal/runtime/supervisor"
	"chatwarmer/internal/transport"
	"chatwarmer/internal/warmer"
	logx "chatwarmer/pkg/logx"
)

type testEnv struct {
	srv  *httptest.Server
	bus  eventbus.Bus
	dir  *directory.Directory
	cat  *catalog.Catalog
	conn *transport.Manager
	net  *transport.MemoryNetwork
	warm *warmer.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	_, err := mgr.Load()
	require.NoError(t, err)

	bus := eventbus.New()
	dir, err := directory.New(ctx, nil, logx.Nop())
	require.NoError(t, err)
	cat, err := catalog.New(ctx, nil, logx.Nop())
	require.NoError(t, err)

	net := transport.NewMemoryNetwork()
	conn := transport.NewManager(net, bus, logx.Nop())
	t.Cleanup(func() { _ = conn.Close() })

	warm, err := warmer.New(mgr.Get().Warmer, warmer.Deps{
		Accounts:  dir,
		Conn:      conn,
		Messenger: conn,
		Catalog:   cat,
		Bus:       bus,
		Log:       logx.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = warm.StopWarming() })

	s := NewServer("127.0.0.1:0", Deps{
		Config:    mgr,
		Directory: dir,
		Catalog:   cat,
		Warmer:    warm,
		Transport: conn,
		Bus:       bus,
		Metrics:   metrics.NewRecorder().Handler(),
		Log:       logx.Nop(),
		Runtime:   func() supervisor.Counters { return supervisor.Counters{Active: 2, Started: 5} },
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, bus: bus, dir: dir, cat: cat, conn: conn, net: net, warm: warm}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, Response) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (e *testEnv) addAccount(t *testing.T, name, address string, connect bool) string {
	t.Helper()
	resp, out := e.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"name": name, "address": address,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := out.Data.(map[string]any)["id"].(string)
	if connect {
		resp, _ = e.do(t, http.MethodPost, "/api/accounts/"+id+"/connect", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	return id
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string              `json:"status"`
		Goroutines supervisor.Counters `json:"goroutines"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(2), body.Goroutines.Active)
	assert.Equal(t, uint64(5), body.Goroutines.Started)
}

func TestAccountLifecycle(t *testing.T) {
	e := newTestEnv(t)

	id := e.addAccount(t, "Alfa", "+15551230001", false)

	resp, out := e.do(t, http.MethodGet, "/api/accounts/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := out.Data.(map[string]any)
	assert.Equal(t, "Alfa", got["name"])
	assert.Equal(t, string(transport.StateDisconnected), got["state"])

	resp, _ = e.do(t, http.MethodPost, "/api/accounts/"+id+"/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, out = e.do(t, http.MethodGet, "/api/accounts/"+id, nil)
	assert.Equal(t, string(transport.StateConnected), out.Data.(map[string]any)["state"])

	resp, _ = e.do(t, http.MethodPatch, "/api/accounts/"+id, map[string]any{"warming": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/accounts/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/accounts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAccountValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"name": "Bad", "address": "0123",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, out.Success)

	e.addAccount(t, "Alfa", "+15551230001", false)
	resp, _ = e.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"name": "Dup", "address": "+15551230001",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAccountImportExport(t *testing.T) {
	e := newTestEnv(t)
	e.addAccount(t, "Alfa", "+15551230001", false)
	e.addAccount(t, "Bravo", "+15551230002", false)

	resp, err := http.Get(e.srv.URL + "/api/accounts/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exported []directory.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exported))
	require.Len(t, exported, 2)

	// Re-import into a fresh instance.
	e2 := newTestEnv(t)
	payload, err := json.Marshal(exported)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e2.srv.URL+"/api/accounts/import", bytes.NewReader(payload))
	require.NoError(t, err)
	resp2, err := e2.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	assert.Equal(t, float64(2), out.Data.(map[string]any)["imported"])
}

func TestTemplateCRUD(t *testing.T) {
	e := newTestEnv(t)

	_, out := e.do(t, http.MethodGet, "/api/templates", nil)
	seeded := len(out.Data.([]any))
	require.Greater(t, seeded, 0)

	resp, out := e.do(t, http.MethodPost, "/api/templates", map[string]any{
		"name":       "Launch Note",
		"category":   "custom",
		"variations": []string{"Hey {name}, happy {dayOfWeek}!"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := out.Data.(map[string]any)["id"].(string)

	resp, _ = e.do(t, http.MethodPost, "/api/templates", map[string]any{
		"name":       "launch note",
		"variations": []string{"dup"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, out = e.do(t, http.MethodPatch, "/api/templates/"+id, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out.Data.(map[string]any)["active"])

	resp, _ = e.do(t, http.MethodDelete, "/api/templates/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, out = e.do(t, http.MethodGet, "/api/templates/stats", nil)
	assert.Equal(t, float64(seeded), out.Data.(map[string]any)["total"])
}

func TestWarmerLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	// Too few accounts.
	resp, _ := e.do(t, http.MethodPost, "/api/warmer/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	e.addAccount(t, "Alfa", "+15551230001", true)
	e.addAccount(t, "Bravo", "+15551230002", true)

	resp, out := e.do(t, http.MethodPost, "/api/warmer/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out.Data.(map[string]any)["account_count"])

	resp, _ = e.do(t, http.MethodPost, "/api/warmer/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, out = e.do(t, http.MethodGet, "/api/warmer/status", nil)
	st := out.Data.(map[string]any)
	assert.Equal(t, true, st["active"])
	assert.Equal(t, float64(2), st["connected_count"])

	resp, _ = e.do(t, http.MethodPost, "/api/warmer/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/warmer/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConfigRoundtrip(t *testing.T) {
	e := newTestEnv(t)

	_, out := e.do(t, http.MethodGet, "/api/config", nil)
	warm := out.Data.(map[string]any)["warmer"].(map[string]any)
	assert.Equal(t, float64(15), warm["min_interval_seconds"])

	resp, out := e.do(t, http.MethodPut, "/api/config",
		map[string]any{"warmer": map[string]any{"min_interval_seconds": 20}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	warm = out.Data.(map[string]any)["warmer"].(map[string]any)
	assert.Equal(t, float64(20), warm["min_interval_seconds"])
	assert.Equal(t, float64(45), warm["max_interval_seconds"])

	// Validation failures leave config untouched.
	resp, _ = e.do(t, http.MethodPut, "/api/config",
		map[string]any{"warmer": map[string]any{"min_interval_seconds": 0}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, out = e.do(t, http.MethodGet, "/api/config", nil)
	assert.Equal(t, float64(20), out.Data.(map[string]any)["warmer"].(map[string]any)["min_interval_seconds"])

	// Unknown fields are rejected.
	resp, _ = e.do(t, http.MethodPut, "/api/config", map[string]any{"warmerr": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryWithoutStore(t *testing.T) {
	e := newTestEnv(t)
	resp, out := e.do(t, http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	resp, _ = e.do(t, http.MethodGet, "/api/history?limit=junk", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuotaDisabled(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/api/quota", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.srv.URL+"/api/events?types="+eventbus.TypeWarmerState, nil)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)

	// The stream opens with a connected event.
	var first string
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event: ") {
			first = strings.TrimPrefix(sc.Text(), "event: ")
			break
		}
	}
	require.Equal(t, "connected", first)

	// A filtered type arrives; other types do not.
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageSent, Data: map[string]string{"x": "y"}})
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeWarmerState, Data: warmer.SessionEvent{Active: true}})

	var evLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			evLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.Equal(t, eventbus.TypeWarmerState, evLine)
	var got warmer.SessionEvent
	require.NoError(t, json.Unmarshal([]byte(dataLine), &got))
	assert.True(t, got.Active)
}

func TestErrorEnvelopeShape(t *testing.T) {
	e := newTestEnv(t)
	resp, out := e.do(t, http.MethodGet, "/api/accounts/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Nil(t, out.Data)
}
