/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package signaling

import (
	"context"
	"errors"
)

var (
	// ErrRelayUnavailable means the relay cannot take the message right now.
	// Callers treat it as a dropped send, not as a fatal error.
	ErrRelayUnavailable = errors.New("signaling relay unavailable")

	// ErrRelayClosed indicates the relay has been closed
	ErrRelayClosed = errors.New("signaling relay closed")

	// ErrUnknownMessageType indicates an envelope with an unsupported type
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidMessage indicates an envelope missing required fields
	ErrInvalidMessage = errors.New("invalid signaling message")
)

// Relay is the room-scoped message bus as seen by one participant.
//
// Messages delivers inbound envelopes in relay order and is closed when the
// relay goes away. Send never blocks on the network; a relay that cannot
// accept the message returns ErrRelayUnavailable and drops it.
type Relay interface {
	Send(ctx context.Context, msg Message) error
	Messages() <-chan Message
	Close() error
}

const defaultInboxSize = 256
