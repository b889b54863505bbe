package grpcservice

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
}

// events streams history events to a WebSocket client as JSON WatchEvents,
// the browser counterpart of the Watch RPC. Messages from the client are
// ignored; closing the socket ends the subscription.
func (g *gateway) events(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	replay, err := queryBool(r, "replay")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	source := r.Header.Get(SourceHeader)
	if source == "" {
		source = r.RemoteAddr
	}
	wp, cancel := g.svc.subscribe(r.RemoteAddr+"/ws", source, replay != nil && *replay)
	defer cancel()

	// The read loop only services control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
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
		case <-r.Context().Done():
			return
		case ev := <-wp.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(fromEvent(ev)); err != nil {
				slog.Debug("websocket write failed", "peer", wp.id, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
