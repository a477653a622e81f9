/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package mesh

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrSessionClosed indicates the session has left its room
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotJoined indicates an operation that needs a joined room
	ErrNotJoined = errors.New("session has not joined a room")

	// ErrAlreadyJoined indicates Join was called twice
	ErrAlreadyJoined = errors.New("session already joined a room")

	// ErrPeerNotFound indicates the peer was not found
	ErrPeerNotFound = errors.New("peer not found")

	// ErrPeerClosed indicates the peer has been closed
	ErrPeerClosed = errors.New("peer is closed")

	// ErrUnknownSession indicates a message from a transport session no
	// participant is mapped to
	ErrUnknownSession = errors.New("unknown transport session")

	// ErrConnectionFailed indicates the WebRTC connection failed
	ErrConnectionFailed = errors.New("connection failed")
)

// NegotiationError reports a failed SDP or ICE step. The link stays in
// its last valid state.
type NegotiationError struct {
	Op            string
	ParticipantID string
	State         webrtc.SignalingState
	Err           error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s with %s failed in state %s: %v", e.Op, e.ParticipantID, e.State, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
