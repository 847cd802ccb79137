package httpapi

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle_layer/internal/events"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = time.Minute
	streamPingEvery = 30 * time.Second
)

// stream upgrades to a websocket and pushes every event as a JSON text
// message. The optional type query parameter is a comma separated filter.
// Slow clients lose events rather than blocking the emitter.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, streamBuffer)
	var dropped atomic.Int64
	push := func(ev events.Event) {
		select {
		case queue <- ev:
		default:
			dropped.Add(1)
		}
	}

	var unsubscribe func()
	if types := parseTypes(r.URL.Query().Get("type")); len(types) > 0 {
		unsubscribe = h.app.Events.SubscribeFiltered(events.TypeFilter(types...), push)
	} else {
		unsubscribe = h.app.Events.Subscribe(push)
	}
	defer unsubscribe()

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			h.log.WithField("dropped", dropped.Load()).Debug("event stream closed")
			return
		case <-r.Context().Done():
			return
		case ev := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	typ := strings.TrimSpace(r.URL.Query().Get("type"))
	if typ != "" {
		writeJSON(w, http.StatusOK, h.app.Events.RecentByType(events.EventType(typ), limit))
		return
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

func parseTypes(raw string) []events.EventType {
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, events.EventType(part))
		}
	}
	return out
}
