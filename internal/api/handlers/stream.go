package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingPeriod   = (streamPongWait * 9) / 10
)

// StreamHandler pushes every published status snapshot to websocket clients.
// A slow client only ever sees the newest snapshot.
type StreamHandler struct {
	status   StatusSource
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewStreamHandler(status StatusSource, log *slog.Logger) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHandler{
		status: status,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With("component", "status_stream"),
	}
}

func (h *StreamHandler) StreamStatus(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only serve to notice the client going away and to handle pongs.
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := make(chan any)
	go func() {
		sub := h.status.Subscribe()
		for {
			status, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case updates <- status:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case status := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(status); err != nil {
				h.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func RegisterStreamRoutes(router *gin.Engine, handler *StreamHandler) {
	router.GET("/ws/status", handler.StreamStatus)
}
