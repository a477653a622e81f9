/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * FuncRelay - 宿主持有信令连接时使用
 * 出站消息交给回调，入站消息由宿主调用 Deliver 推入
 */
package signaling

import (
	"context"
	"sync"
)

// FuncRelay adapts a host-owned signaling channel (e.g. a Dart socket) to Relay.
type FuncRelay struct {
	mu     sync.Mutex
	send   func(Message) error
	inbox  chan Message
	closed bool
}

// NewFuncRelay creates a relay that hands every outbound message to send.
func NewFuncRelay(send func(Message) error) *FuncRelay {
	return &FuncRelay{
		send:  send,
		inbox: make(chan Message, defaultInboxSize),
	}
}

// Send implements Relay
func (r *FuncRelay) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	closed := r.closed
	send := r.send
	r.mu.Unlock()

	if closed || send == nil {
		return ErrRelayUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return send(msg)
}

// Deliver pushes an inbound message. It never blocks; a full inbox drops.
func (r *FuncRelay) Deliver(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	select {
	case r.inbox <- msg:
		return nil
	default:
		return ErrRelayUnavailable
	}
}

// DeliverJSON decodes and pushes an inbound envelope.
func (r *FuncRelay) DeliverJSON(data []byte) error {
	msg, err := Unmarshal(data)
	if err != nil {
		return err
	}
	return r.Deliver(msg)
}

// Messages implements Relay
func (r *FuncRelay) Messages() <-chan Message {
	return r.inbox
}

// Close implements Relay
func (r *FuncRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.inbox)
	return nil
}
