package websocket

import (
	"encoding/json"
)

// Event names on the wire.
const (
	EventRoomJoin          = "room.join"
	EventRoomLeave         = "room.leave"
	EventRoomError         = "room.error"
	EventJoinResult        = "user.join.result"
	EventPresenceUpdate    = "presence.update"
	EventUserVerify        = "user.verify"
	EventUserVerifyRequest = "user.verify.request"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a ready-to-write frame.
func Encode(event string, data interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// GroupName is the socket-group a room's presence is broadcast on.
func GroupName(roomCode string) string {
	return "room:" + roomCode
}
