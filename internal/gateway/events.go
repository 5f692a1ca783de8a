package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberlab/hearth/internal/bus"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsSendBuffer    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-only surface; non-browser clients send no Origin at all.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to WebSocket and forwards every bus event as JSON.
// A client that cannot keep up with the send buffer is dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan bus.Event, wsSendBuffer)
	overflow := make(chan struct{}, 1)
	unsubscribe := s.events.SubscribeAny(func(ev bus.Event) {
		select {
		case send <- ev:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// Reader only services control frames; any read error ends the session.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("event stream client connected", "remote", r.RemoteAddr)
	defer slog.Info("event stream client disconnected", "remote", r.RemoteAddr)

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-overflow:
			slog.Warn("event stream client too slow, dropping", "remote", r.RemoteAddr)
			return
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
