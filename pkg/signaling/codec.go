/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Wire codec - 扁平 JSON 信封 <-> Message
 */
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Envelope is the flat JSON shape on the wire. Relays route on Type, To and
// From without decoding the rest.
type Envelope struct {
	Type               MessageType                `json:"type"`
	RoomID             string                     `json:"roomId,omitempty"`
	From               string                     `json:"from,omitempty"`
	To                 string                     `json:"to,omitempty"`
	Participants       []Participant              `json:"participants,omitempty"`
	Participant        *Participant               `json:"participant,omitempty"`
	ParticipantID      string                     `json:"participantId,omitempty"`
	TransportSessionID string                     `json:"transportSessionId,omitempty"`
	Offer              *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer             *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate          *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Code               int                        `json:"code,omitempty"`
	Error              string                     `json:"error,omitempty"`
}

// ToEnvelope flattens a message.
func ToEnvelope(msg Message) (Envelope, error) {
	switch m := msg.(type) {
	case RoomRoster:
		return Envelope{Type: MessageTypeRoomRoster, RoomID: m.RoomID, Participants: m.Participants}, nil
	case UserJoined:
		p := m.Participant
		return Envelope{Type: MessageTypeUserJoined, RoomID: m.RoomID, Participant: &p}, nil
	case UserLeft:
		return Envelope{
			Type:               MessageTypeUserLeft,
			RoomID:             m.RoomID,
			ParticipantID:      m.ParticipantID,
			TransportSessionID: m.TransportSessionID,
		}, nil
	case Offer:
		sd := m.Offer
		return Envelope{Type: MessageTypeOffer, RoomID: m.RoomID, From: m.From, To: m.To, Offer: &sd}, nil
	case Answer:
		sd := m.Answer
		return Envelope{Type: MessageTypeAnswer, RoomID: m.RoomID, From: m.From, To: m.To, Answer: &sd}, nil
	case Candidate:
		c := m.Candidate
		return Envelope{Type: MessageTypeCandidate, RoomID: m.RoomID, From: m.From, To: m.To, Candidate: &c}, nil
	case JoinRoom:
		p := m.Participant
		return Envelope{Type: MessageTypeJoinRoom, RoomID: m.RoomID, Participant: &p}, nil
	case LeaveRoom:
		return Envelope{Type: MessageTypeLeaveRoom, RoomID: m.RoomID, ParticipantID: m.ParticipantID}, nil
	case ErrorMessage:
		return Envelope{Type: MessageTypeError, RoomID: m.RoomID, Code: m.Code, Error: m.Message}, nil
	case nil:
		return Envelope{}, ErrInvalidMessage
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}
}

// Message rebuilds the typed message and validates required fields.
func (e Envelope) Message() (Message, error) {
	switch e.Type {
	case MessageTypeRoomRoster:
		return RoomRoster{RoomID: e.RoomID, Participants: e.Participants}, nil
	case MessageTypeUserJoined:
		if e.Participant == nil || e.Participant.ParticipantID == "" {
			return nil, fmt.Errorf("%w: %s without participant", ErrInvalidMessage, e.Type)
		}
		return UserJoined{RoomID: e.RoomID, Participant: *e.Participant}, nil
	case MessageTypeUserLeft:
		if e.ParticipantID == "" && e.TransportSessionID == "" {
			return nil, fmt.Errorf("%w: %s without ids", ErrInvalidMessage, e.Type)
		}
		return UserLeft{RoomID: e.RoomID, ParticipantID: e.ParticipantID, TransportSessionID: e.TransportSessionID}, nil
	case MessageTypeOffer:
		if e.Offer == nil {
			return nil, fmt.Errorf("%w: %s without offer", ErrInvalidMessage, e.Type)
		}
		return Offer{RoomID: e.RoomID, From: e.From, To: e.To, Offer: *e.Offer}, nil
	case MessageTypeAnswer:
		if e.Answer == nil {
			return nil, fmt.Errorf("%w: %s without answer", ErrInvalidMessage, e.Type)
		}
		return Answer{RoomID: e.RoomID, From: e.From, To: e.To, Answer: *e.Answer}, nil
	case MessageTypeCandidate:
		if e.Candidate == nil {
			return nil, fmt.Errorf("%w: %s without candidate", ErrInvalidMessage, e.Type)
		}
		return Candidate{RoomID: e.RoomID, From: e.From, To: e.To, Candidate: *e.Candidate}, nil
	case MessageTypeJoinRoom:
		if e.Participant == nil {
			return nil, fmt.Errorf("%w: %s without participant", ErrInvalidMessage, e.Type)
		}
		return JoinRoom{RoomID: e.RoomID, Participant: *e.Participant}, nil
	case MessageTypeLeaveRoom:
		return LeaveRoom{RoomID: e.RoomID, ParticipantID: e.ParticipantID}, nil
	case MessageTypeError:
		return ErrorMessage{RoomID: e.RoomID, Code: e.Code, Message: e.Error}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, e.Type)
	}
}

// Marshal encodes a message to its JSON envelope.
func Marshal(msg Message) ([]byte, error) {
	env, err := ToEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope into a typed message.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return env.Message()
}

// WithSender returns a copy of a routed message stamped with the sender's
// transport session id. Non-routed messages are returned unchanged.
func WithSender(msg Message, from string) Message {
	switch m := msg.(type) {
	case Offer:
		m.From = from
		return m
	case Answer:
		m.From = from
		return m
	case Candidate:
		m.From = from
		return m
	default:
		return msg
	}
}

// Destination returns the addressed transport session of a routed message.
func Destination(msg Message) (string, bool) {
	switch m := msg.(type) {
	case Offer:
		return m.To, true
	case Answer:
		return m.To, true
	case Candidate:
		return m.To, true
	default:
		return "", false
	}
}

// Sender returns the transport session that sent a routed message.
func Sender(msg Message) (string, bool) {
	switch m := msg.(type) {
	case Offer:
		return m.From, true
	case Answer:
		return m.From, true
	case Candidate:
		return m.From, true
	default:
		return "", false
	}
}
