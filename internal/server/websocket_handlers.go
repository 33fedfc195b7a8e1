package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"colloquy/internal/identity"
	"colloquy/internal/middleware"
	"colloquy/internal/models"
	"colloquy/internal/observability"
	"colloquy/internal/thread"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages.
	maxMessageSize = 4096

	sendBuffer = 8

	localEngine   = "threadEngine"
	localThreadID = "threadID"
)

// Stream message types.
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
	MessageReload   = "reload"
)

// StreamMessage is one frame of the thread stream.
type StreamMessage struct {
	Type     string                `json:"type"`
	Snapshot *thread.Snapshot      `json:"snapshot,omitempty"`
	Error    *models.ErrorResponse `json:"error,omitempty"`
}

func snapshotMessage(snap thread.Snapshot) StreamMessage {
	msg := StreamMessage{Type: MessageSnapshot, Snapshot: &snap}
	if snap.Err != nil {
		resp := models.NewErrorResponse(snap.Err)
		msg.Error = &resp
	}
	return msg
}

func errorMessage(err error) StreamMessage {
	resp := models.NewErrorResponse(err)
	return StreamMessage{Type: MessageError, Error: &resp}
}

// WebSocketThreadHandler streams live snapshots of one thread. Each
// connection owns a sync controller that is deactivated however the
// connection ends.
func (s *Server) WebSocketThreadHandler() fiber.Handler {
	upgrade := websocket.New(s.streamThread)
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		engine, err := s.engineFor(c)
		if err != nil {
			return nil
		}
		threadID, err := parseID(c, "id")
		if err != nil {
			return nil
		}
		c.Locals(localEngine, engine)
		c.Locals(localThreadID, threadID)
		return upgrade(c)
	}
}

func (s *Server) streamThread(conn *websocket.Conn) {
	observability.WebSocketConnections.Inc()
	defer observability.WebSocketConnections.Dec()

	engine, _ := conn.Locals(localEngine).(*thread.Engine)
	threadID, _ := conn.Locals(localThreadID).(uint)
	if engine == nil || threadID == 0 {
		_ = conn.Close()
		return
	}

	ctx := context.Background()
	if vid, ok := conn.Locals(middleware.ViewerLocal).(uint); ok {
		ctx = identity.WithViewer(ctx, identity.Viewer{ID: vid})
		ctx = observability.WithViewerID(ctx, vid)
	}

	log := observability.Logger.With(
		slog.String("kind", engine.Scope().String()),
		slog.Uint64("thread_id", uint64(threadID)),
	)

	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	push := func(msg StreamMessage) {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.ErrorContext(ctx, "failed to encode stream message", slog.String("error", err.Error()))
			return
		}
		select {
		case send <- payload:
		case <-writerDone:
		}
	}

	ctrl := engine.NewSyncController(func(snap thread.Snapshot) {
		push(snapshotMessage(snap))
	})
	defer ctrl.Deactivate()

	go func() {
		defer close(writerDone)
		writePump(conn, send, done)
	}()

	log.InfoContext(ctx, "thread stream opened")
	if err := ctrl.Activate(ctx, threadID); err != nil {
		// The initial load still runs; only live updates are missing.
		log.WarnContext(ctx, "thread stream without live updates", slog.String("error", err.Error()))
		push(errorMessage(err))
	}

	readPump(conn, ctrl)

	// No snapshot is delivered after Deactivate returns, so the writer can
	// be stopped safely.
	ctrl.Deactivate()
	close(done)
	<-writerDone
	log.InfoContext(ctx, "thread stream closed")
}

// readPump consumes client frames until the connection fails. Clients may
// ask for a manual reload.
func readPump(conn *websocket.Conn, ctrl *thread.SyncController) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg StreamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == MessageReload {
			ctrl.Reload()
		}
	}
}

// writePump is the only writer of conn.
func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
