package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	logx "chatwarmer/pkg/logx"
)

// handleEvents bridges the event bus to a Server-Sent Events stream. An
// optional ?types=a,b,c query restricts the stream to those event types.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		s.fail(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var want map[string]bool
	if q := r.URL.Query().Get("types"); q != "" {
		want = map[string]bool{}
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				want[t] = true
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, unsub := s.deps.Bus.Subscribe(64)
	defer unsub()

	s.log.Debug("event stream opened")
	s.sendSSE(w, flusher, "connected", map[string]any{"at": time.Now()})

	// Periodic comments keep intermediaries from closing the idle stream.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("event stream closed")
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if want != nil && !want[ev.Type] {
				continue
			}
			s.sendSSE(w, flusher, ev.Type, ev.Data)
		}
	}
}

func (s *Server) sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("sse marshal failed", logx.Err(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
