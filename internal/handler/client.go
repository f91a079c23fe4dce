package handler

import (
	"net/http"
	"time"

	"roadscan/internal/logger"
	"roadscan/internal/service/websocket"

	gws "github.com/gorilla/websocket"
)

const (
	// MaxViewerMessage bounds what a viewer may send; viewers only receive.
	MaxViewerMessage = 512
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	writeWait        = 10 * time.Second
)

var upgrader = gws.Upgrader{
	ReadBufferSize:  MaxViewerMessage,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler upgrades a preview viewer and hands the connection
// to hub. The handler owns the read side: it keeps the connection alive
// with pings and drops viewers that stop answering or send oversized
// messages.
func ViewWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Viewer upgrade failed: %v", err)
			return
		}

		conn.SetReadLimit(MaxViewerMessage)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		hub.Register(conn)
		defer hub.Unregister(conn)

		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(conn, stop)

		logger.Debug("Viewer %s connected", r.RemoteAddr)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
					logger.Debug("Viewer %s left", r.RemoteAddr)
				} else {
					logger.Warning("Dropping viewer %s: %v", r.RemoteAddr, err)
				}
				return
			}
		}
	}
}

// keepAlive pings conn until stop is closed or a ping fails. WriteControl
// may run concurrently with the hub's frame writes.
func keepAlive(conn *gws.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(gws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
