/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * WebSocket Relay - 连接外部信令服务器
 * 读写各一个 goroutine，写端定时 Ping，读端超时断开
 * 断开后不自动重连，发送变为丢弃
 */
package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 64 * 1024
	wsSendBuffer     = 64
)

// WSConfig configures DialWS.
type WSConfig struct {
	// Header is sent with the upgrade request (auth tokens, origin ...)
	Header http.Header
	// DialTimeout bounds the whole retrying dial
	DialTimeout time.Duration
	// HandshakeTimeout bounds a single attempt
	HandshakeTimeout time.Duration
}

// DefaultWSConfig returns default dial settings
func DefaultWSConfig() WSConfig {
	return WSConfig{
		DialTimeout:      30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WSRelay is a Relay over a gorilla/websocket client connection.
type WSRelay struct {
	mu sync.RWMutex

	conn  *websocket.Conn
	send  chan []byte
	inbox chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// DialWS connects to a relay server, retrying with exponential backoff until
// the dial timeout. A 4xx handshake response is not retried.
func DialWS(ctx context.Context, url string, cfg WSConfig) (*WSRelay, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := dialer.DialContext(ctx, url, cfg.Header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("relay rejected handshake: %s", resp.Status))
			}
			utils.Warn("[WSRelay] dial %s failed: %v", url, err)
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = cfg.DialTimeout
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	return newWSRelay(conn), nil
}

func newWSRelay(conn *websocket.Conn) *WSRelay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &WSRelay{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		inbox:  make(chan Message, defaultInboxSize),
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(2)
	go r.readPump()
	go r.writePump()
	return r
}

// Send implements Relay. The message is queued for the write pump; a full
// queue or a dead connection drops it.
func (r *WSRelay) Send(ctx context.Context, msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRelayUnavailable
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRelayUnavailable
	case r.send <- data:
		return nil
	default:
		utils.Warn("[WSRelay] send buffer full, dropping %s", msg.MessageType())
		return ErrRelayUnavailable
	}
}

// Messages implements Relay
func (r *WSRelay) Messages() <-chan Message {
	return r.inbox
}

// Close implements Relay
func (r *WSRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	// 解除 readPump 的阻塞读
	r.conn.SetReadDeadline(time.Now())
	r.wg.Wait()
	return r.conn.Close()
}

func (r *WSRelay) readPump() {
	defer r.wg.Done()
	defer close(r.inbox)
	defer r.cancel()

	r.conn.SetReadLimit(wsMaxMessageSize)
	r.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("[WSRelay] connection lost: %v", err)
			}
			return
		}

		msg, err := Unmarshal(data)
		if err != nil {
			utils.Warn("[WSRelay] dropping undecodable message: %v", err)
			continue
		}

		select {
		case r.inbox <- msg:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *WSRelay) writePump() {
	defer r.wg.Done()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			r.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-r.send:
			r.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				utils.Warn("[WSRelay] write failed: %v", err)
				r.cancel()
				return
			}

		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.cancel()
				return
			}
		}
	}
}
