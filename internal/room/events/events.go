// Package events defines the wire format of the auction room channel. The
// payload types live here so the connection, room, and simulator packages can
// all share them without cyclic imports.
package events

import (
	"encoding/json"
)

// Envelope is the base structure for every event pushed over the room channel.
type Envelope struct {
	ID        string          `json:"id"`         // Event UUID
	Type      Type            `json:"event"`      // Event type
	AuctionID string          `json:"auction_id"` // Room the event belongs to
	Timestamp int64           `json:"ts"`         // Unix millis at the server
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// Type identifies a room event.
type Type string

// Server to client events.
const (
	TypeJoinedRoom        Type = "joined_room"
	TypeBidUpdate         Type = "bid_update"
	TypeChatMessage       Type = "chat_message"
	TypeTimerUpdate       Type = "timer_update"
	TypeRoomEnded         Type = "room_ended"
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
)

// Client to server message types.
const (
	TypeJoinRoom  Type = "join_room"
	TypeLeaveRoom Type = "leave_room"
	TypeSendChat  Type = "send_chat"
)

// ClientMessage is the frame a client sends over the room channel.
type ClientMessage struct {
	Type Type            `json:"event"`
	Data json.RawMessage `json:"data"`
}

// EncodeClientMessage builds the raw frame for an outbound client message.
func EncodeClientMessage(t Type, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientMessage{Type: t, Data: data})
}

// ParsePayload parses an envelope's data into the appropriate payload struct.
// Unknown event types return (nil, nil) so callers can skip them.
func ParsePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case TypeJoinedRoom:
		var payload RoomSnapshotPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeBidUpdate:
		var payload BidUpdatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeChatMessage:
		var payload ChatMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeTimerUpdate:
		var payload TimerUpdatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeRoomEnded:
		var payload RoomEndedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeParticipantJoined, TypeParticipantLeft:
		var payload ParticipantPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
