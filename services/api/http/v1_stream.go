package http

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/metrics"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/state"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerMessage is one frame sent to live stream clients.
type ServerMessage struct {
	Type    string `json:"type"` // "snapshot", "tick"
	Payload any    `json:"payload"`
}

// handleV1LiveStream pushes a "snapshot" frame whenever the tree changes and
// a "tick" frame with the interpolated overlay every LIVE_TICK.
// GET /api/v1/live/stream?date=YYYY-MM-DD
func (s *Server) handleV1LiveStream(c *gin.Context) {
	date, ok := s.viewedDate(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("websocket close", zap.Error(err))
		}
	}()

	remote := c.Request.RemoteAddr
	metrics.LiveClients.Inc()
	defer metrics.LiveClients.Dec()
	s.logger.Info("live client connected", zap.String("remote_addr", remote), zap.String("date", date))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	subID, views := s.state.Subscribe()
	defer s.state.Unsubscribe(subID)

	send := make(chan ServerMessage, 16)
	var producers sync.WaitGroup
	var writer sync.WaitGroup

	guard := func(name string, fn func()) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in live stream goroutine",
					zap.String("goroutine", name),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", remote))
				cancel()
			}
		}()
		fn()
	}

	producers.Add(2)
	go func() {
		defer producers.Done()
		guard("producer", func() { s.produceLive(ctx, date, views, send) })
	}()
	go func() {
		defer producers.Done()
		guard("ping", func() { s.sendPings(ctx, conn) })
	}()

	writer.Add(1)
	go func() {
		defer writer.Done()
		guard("writer", func() { s.writeMessages(conn, send, cancel) })
	}()

	s.readUntilClosed(ctx, conn, cancel)

	cancel()
	producers.Wait()
	close(send)
	writer.Wait()

	s.logger.Info("live client disconnected", zap.String("remote_addr", remote))
}

// produceLive emits the initial frames and then one frame per view change or
// tick until ctx ends or the subscription closes.
func (s *Server) produceLive(ctx context.Context, date string, views <-chan state.View, send chan<- ServerMessage) {
	ticker := time.NewTicker(s.cfg.LiveTick)
	defer ticker.Stop()

	push := func(msg ServerMessage) bool {
		select {
		case send <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	view := s.state.Snapshot()
	if !push(snapshotMessage(view)) || !push(s.tickMessage(view, date)) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			view = v
			if !push(snapshotMessage(view)) {
				return
			}
		case <-ticker.C:
			if !push(s.tickMessage(s.state.Snapshot(), date)) {
				return
			}
		}
	}
}

func snapshotMessage(v state.View) ServerMessage {
	modules := v.Modules
	if modules == nil {
		modules = []network.Module{}
	}
	return ServerMessage{
		Type: "snapshot",
		Payload: gin.H{
			"data": modules,
			"meta": viewMeta(v, len(modules)),
		},
	}
}

func (s *Server) tickMessage(v state.View, date string) ServerMessage {
	now := s.calendar.Now()
	return ServerMessage{
		Type: "tick",
		Payload: gin.H{
			"data": s.live.Overlay(v.Modules, now, date),
			"meta": gin.H{
				"date":        date,
				"is_today":    s.calendar.IsTodayDate(date),
				"computed_at": now.UTC().Format(time.RFC3339),
				"version":     v.Version,
			},
		},
	}
}

// sendPings keeps the connection alive; the client's pongs extend the read
// deadline.
func (s *Server) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) writeMessages(conn *websocket.Conn, send <-chan ServerMessage, cancel context.CancelFunc) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("failed to write live message", zap.Error(err))
			cancel()
			// Drain so producers blocked on send can observe cancellation.
			for range send {
			}
			return
		}
	}
}

// readUntilClosed discards client frames and returns when the connection
// closes or goes quiet past the read deadline.
func (s *Server) readUntilClosed(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		<-ctx.Done()
		// Unblock ReadMessage when the server side ends the stream.
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && ctx.Err() == nil {
				s.logger.Warn("live stream read error", zap.Error(err))
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
