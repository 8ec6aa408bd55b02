package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients from any origin may subscribe; the bearer-auth
	// middleware already gated this route before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// handleWebsocket implements GET /api/ws: upgrades and bridges the
// in-process event broker to the connected socket, applying the same bounded-channel-
// with-drop-counting discipline as every other internal subscriber (§9).
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	// A closed-connection signal: any read error (including the client
	// going away) ends the bridge. Clients are not expected to send
	// anything, but we must still drain reads to detect close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev *events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		metrics.EventBusDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		metrics.EventBusDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
		return err
	}
	return nil
}
