package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bryan-buckman/skyvault/internal/notify"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 30 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsReadLimit  = 4 << 10
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS configuration.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscribe registers a listener on every store. Events are dropped while
// the returned channel is full. The returned func unregisters again.
func (s *Server) subscribe() (<-chan notify.Event, func()) {
	events := make(chan notify.Event, eventBuffer)
	regs := s.stores.Registries()
	handles := make([]uuid.UUID, len(regs))
	for i, reg := range regs {
		handles[i] = reg.Register(func(ev notify.Event) {
			select {
			case events <- ev:
			default:
				s.log.Warn().Str("topic", ev.Topic).Msg("event subscriber too slow, dropping event")
			}
		})
	}
	return events, func() {
		for i, reg := range regs {
			reg.Unregister(handles[i])
		}
	}
}

// handleEvents streams store changes as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWebSocket sends the same events as JSON messages over a websocket.
// Anything the client sends is ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
