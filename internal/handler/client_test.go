package handler

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roadscan/internal/logger"
	"roadscan/internal/service/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialViewer(t *testing.T, hub *websocket.HubService) *gws.Conn {
	t.Helper()
	server := httptest.NewServer(ViewWebsocketHandler(hub, logger.Nop()))
	t.Cleanup(server.Close)

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestViewWebsocketHandler_RegistersUntilClose(t *testing.T) {
	hub := websocket.NewHubService(0, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialViewer(t, hub)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestViewWebsocketHandler_DropsOversizedMessages(t *testing.T) {
	hub := websocket.NewHubService(0, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialViewer(t, hub)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, bytes.Repeat([]byte("x"), 2*MaxViewerMessage)))
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
