/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package signaling

import (
	"github.com/pion/webrtc/v4"
)

// MessageType represents the type of signaling message
type MessageType string

const (
	// MessageTypeRoomRoster lists everyone currently in the room
	MessageTypeRoomRoster MessageType = "room-roster"
	// MessageTypeUserJoined announces a new participant
	MessageTypeUserJoined MessageType = "user-joined"
	// MessageTypeUserLeft announces a departed participant
	MessageTypeUserLeft MessageType = "user-left"
	// MessageTypeOffer is an SDP offer
	MessageTypeOffer MessageType = "webrtc-offer"
	// MessageTypeAnswer is an SDP answer
	MessageTypeAnswer MessageType = "webrtc-answer"
	// MessageTypeCandidate is an ICE candidate
	MessageTypeCandidate MessageType = "webrtc-ice-candidate"
	// MessageTypeJoinRoom asks the relay to admit the sender into a room
	MessageTypeJoinRoom MessageType = "join-room"
	// MessageTypeLeaveRoom asks the relay to remove the sender from a room
	MessageTypeLeaveRoom MessageType = "leave-room"
	// MessageTypeError indicates an error occurred
	MessageTypeError MessageType = "error"
)

// Participant is one roster entry.
type Participant struct {
	ParticipantID      string `json:"participantId"`
	TransportSessionID string `json:"transportSessionId"`
	DisplayName        string `json:"displayName,omitempty"`
	Role               string `json:"role,omitempty"`
}

// Message is the closed set of envelopes exchanged with the relay.
// Consumers type-switch on the concrete type.
type Message interface {
	MessageType() MessageType
	Room() string
}

// RoomRoster is delivered to a participant right after it joins.
type RoomRoster struct {
	RoomID       string
	Participants []Participant
}

// UserJoined is delivered to existing participants when someone joins.
type UserJoined struct {
	RoomID      string
	Participant Participant
}

// UserLeft is delivered when a participant leaves or its transport drops.
type UserLeft struct {
	RoomID             string
	ParticipantID      string
	TransportSessionID string
}

// Offer carries an SDP offer between two transport sessions.
type Offer struct {
	RoomID string
	From   string
	To     string
	Offer  webrtc.SessionDescription
}

// Answer carries an SDP answer between two transport sessions.
type Answer struct {
	RoomID string
	From   string
	To     string
	Answer webrtc.SessionDescription
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	RoomID    string
	From      string
	To        string
	Candidate webrtc.ICECandidateInit
}

// JoinRoom is sent by a client to enter a room.
type JoinRoom struct {
	RoomID      string
	Participant Participant
}

// LeaveRoom is sent by a client when it leaves a room.
type LeaveRoom struct {
	RoomID        string
	ParticipantID string
}

// ErrorMessage represents an error
type ErrorMessage struct {
	RoomID  string
	Code    int
	Message string
}

func (m RoomRoster) MessageType() MessageType   { return MessageTypeRoomRoster }
func (m UserJoined) MessageType() MessageType   { return MessageTypeUserJoined }
func (m UserLeft) MessageType() MessageType     { return MessageTypeUserLeft }
func (m Offer) MessageType() MessageType        { return MessageTypeOffer }
func (m Answer) MessageType() MessageType       { return MessageTypeAnswer }
func (m Candidate) MessageType() MessageType    { return MessageTypeCandidate }
func (m JoinRoom) MessageType() MessageType     { return MessageTypeJoinRoom }
func (m LeaveRoom) MessageType() MessageType    { return MessageTypeLeaveRoom }
func (m ErrorMessage) MessageType() MessageType { return MessageTypeError }

func (m RoomRoster) Room() string   { return m.RoomID }
func (m UserJoined) Room() string   { return m.RoomID }
func (m UserLeft) Room() string     { return m.RoomID }
func (m Offer) Room() string        { return m.RoomID }
func (m Answer) Room() string       { return m.RoomID }
func (m Candidate) Room() string    { return m.RoomID }
func (m JoinRoom) Room() string     { return m.RoomID }
func (m LeaveRoom) Room() string    { return m.RoomID }
func (m ErrorMessage) Room() string { return m.RoomID }
