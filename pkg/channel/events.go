// Package channel manages the realtime messaging connection: a websocket
// carrying JSON frames of the form {"event": ..., "data": ...}. The Manager
// owns the transport lifecycle (authenticate, reconnect, room membership);
// consumers subscribe to server events by name.
package channel

import (
	"encoding/json"

	"github.com/geoping/geoping/pkg/jsontime"
)

// Event names emitted by the client.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventSendMessage  = "send_message"
)

// Event names delivered by the server.
const (
	EventAuthenticated   = "authenticated"
	EventAuthFailed      = "authentication_failed"
	EventJoinedRoom      = "joined_room"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventNewMessage      = "new_message"
	EventNewConversation = "new_conversation"
	EventError           = "error"
)

// Frame is the wire unit: an event name plus its payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is the payload of new_message and send_message frames.
type Message struct {
	RoomID string         `json:"room_id"`
	Sender string         `json:"sender"`
	Body   string         `json:"body"`
	Sent   jsontime.Milli `json:"sent"`
}

// Conversation is the payload of new_conversation frames.
type Conversation struct {
	ID      string         `json:"id"`
	RoomID  string         `json:"room_id"`
	Title   string         `json:"title"`
	Started jsontime.Milli `json:"started"`
}

// RoomEvent is the payload of joined_room, user_joined, and user_left frames.
type RoomEvent struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}
