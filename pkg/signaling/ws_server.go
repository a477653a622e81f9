/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * WebSocket Server - 把 WebSocket 客户端接入 Hub
 * 每个连接对应一个 MemoryRelay，由 Hub 负责房间和路由
 */
package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler serves relay clients over WebSocket on top of a Hub.
type WSHandler struct {
	hub *Hub
}

// NewWSHandler creates a handler for hub.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// ServeHTTP implements http.Handler
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		utils.Warn("[WSServer] upgrade failed: %v", err)
		return
	}

	relay := h.hub.Connect()
	utils.Info("[WSServer] session %s connected from %s", relay.SessionID(), req.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(conn, relay, done)
	h.readPump(conn, relay)

	// 关闭 relay 会广播 user-left 并关闭 inbox，writePump 随之退出
	relay.Close()
	<-done
	conn.Close()
	utils.Info("[WSServer] session %s disconnected", relay.SessionID())
}

func (h *WSHandler) readPump(conn *websocket.Conn, relay *MemoryRelay) {
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("[WSServer] read error: %v", err)
			}
			return
		}

		msg, err := Unmarshal(data)
		if err != nil {
			utils.Warn("[WSServer] invalid message from %s: %v", relay.SessionID(), err)
			continue
		}
		if err := relay.Send(context.Background(), msg); err != nil {
			utils.Warn("[WSServer] relay %s failed: %v", msg.MessageType(), err)
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, relay *MemoryRelay, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-relay.Messages():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := Marshal(msg)
			if err != nil {
				utils.Warn("[WSServer] encode %s failed: %v", msg.MessageType(), err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// 让 readPump 尽快退出
				conn.SetReadDeadline(time.Now())
				drain(relay)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.SetReadDeadline(time.Now())
				drain(relay)
				return
			}
		}
	}
}

// drain discards deliveries until the relay is closed.
func drain(relay *MemoryRelay) {
	go func() {
		for range relay.Messages() {
		}
	}()
}
