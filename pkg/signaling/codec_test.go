/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Codec Tests
 */
package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCodecRoundTrip(t *testing.T) {
	mid := "0"
	line := uint16(0)
	messages := []Message{
		RoomRoster{RoomID: "r1", Participants: []Participant{
			{ParticipantID: "alice", TransportSessionID: "s1", DisplayName: "Alice", Role: "lecturer"},
			{ParticipantID: "bob", TransportSessionID: "s2"},
		}},
		UserJoined{RoomID: "r1", Participant: Participant{ParticipantID: "carol", TransportSessionID: "s3"}},
		UserLeft{RoomID: "r1", ParticipantID: "bob", TransportSessionID: "s2"},
		Offer{RoomID: "r1", From: "s1", To: "s2", Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}},
		Answer{RoomID: "r1", From: "s2", To: "s1", Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}},
		Candidate{RoomID: "r1", From: "s1", To: "s2", Candidate: webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 2130706431 1.2.3.4 5000 typ host", SDPMid: &mid, SDPMLineIndex: &line,
		}},
		JoinRoom{RoomID: "r1", Participant: Participant{ParticipantID: "alice"}},
		LeaveRoom{RoomID: "r1", ParticipantID: "alice"},
		ErrorMessage{RoomID: "r1", Code: 403, Message: "forbidden"},
	}

	for _, msg := range messages {
		data, err := Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal %s failed: %v", msg.MessageType(), err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal %s failed: %v", msg.MessageType(), err)
		}
		if got.MessageType() != msg.MessageType() {
			t.Errorf("Expected type %s, got %s", msg.MessageType(), got.MessageType())
		}
		if got.Room() != "r1" {
			t.Errorf("%s: expected room r1, got %q", msg.MessageType(), got.Room())
		}
	}
}

func TestCodecWireNames(t *testing.T) {
	data, err := Marshal(Candidate{RoomID: "r1", To: "s2", Candidate: webrtc.ICECandidateInit{Candidate: "c"}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if raw["type"] != "webrtc-ice-candidate" {
		t.Errorf("Expected wire type webrtc-ice-candidate, got %v", raw["type"])
	}
	if raw["roomId"] != "r1" || raw["to"] != "s2" {
		t.Errorf("Unexpected routing fields: %v", raw)
	}
	if _, ok := raw["from"]; ok {
		t.Error("from should be omitted when empty")
	}
}

func TestCodecUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"chat-message","roomId":"r1"}`))
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("Expected ErrUnknownMessageType, got %v", err)
	}

	_, err = Unmarshal([]byte(`not json`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}

	if _, err := ToEnvelope(nil); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage for nil, got %v", err)
	}
}

func TestCodecMissingPayload(t *testing.T) {
	cases := []string{
		`{"type":"webrtc-offer","to":"s2"}`,
		`{"type":"webrtc-answer","to":"s2"}`,
		`{"type":"webrtc-ice-candidate","to":"s2"}`,
		`{"type":"user-joined"}`,
		`{"type":"user-left"}`,
	}
	for _, c := range cases {
		if _, err := Unmarshal([]byte(c)); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s: expected ErrInvalidMessage, got %v", c, err)
		}
	}
}

func TestWithSenderAndDestination(t *testing.T) {
	var msg Message = Offer{RoomID: "r1", To: "s2"}
	msg = WithSender(msg, "s1")

	from, ok := Sender(msg)
	if !ok || from != "s1" {
		t.Errorf("Expected sender s1, got %q", from)
	}
	to, ok := Destination(msg)
	if !ok || to != "s2" {
		t.Errorf("Expected destination s2, got %q", to)
	}

	roster := RoomRoster{RoomID: "r1"}
	if _, ok := Destination(roster); ok {
		t.Error("roster should not have a destination")
	}
	if got := WithSender(roster, "s1"); got.MessageType() != MessageTypeRoomRoster {
		t.Error("WithSender should leave non-routed messages unchanged")
	}
}

func BenchmarkCodecMarshal(b *testing.B) {
	msg := Offer{RoomID: "r1", From: "s1", To: "s2", Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}}
	for i := 0; i < b.N; i++ {
		data, _ := Marshal(msg)
		Unmarshal(data)
	}
}
