package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"roomcast/internal/app/user"
)

// legacyTimeLayout is the HH:MM:SS clock used by legacy message frames.
const legacyTimeLayout = "15:04:05"

// Dialect selects how events are shaped on the wire for one connection.
type Dialect int32

const (
	// DialectUnset has not seen a dialect-specific event yet and encodes like DialectRooms.
	DialectUnset Dialect = iota

	// DialectRooms is the room-browser protocol: joinRoom, sendMessage, newMessage and friends.
	DialectRooms

	// DialectLegacy is the single-room protocol: join, chatMessage, message and roomUsers.
	DialectLegacy
)

func (d Dialect) String() string {
	switch d {
	case DialectRooms:
		return "rooms"
	case DialectLegacy:
		return "legacy"
	}
	return "unset"
}

// DialectOf returns the dialect an inbound event name implies, or DialectUnset when
// the event is shared by both.
func DialectOf(event string) Dialect {
	switch event {
	case InboundJoin, InboundChatMessage:
		return DialectLegacy
	case InboundJoinRoom, InboundSendMessage, InboundLeaveRoom:
		return DialectRooms
	}
	return DialectUnset
}

// Inbound event names.
const (
	InboundJoin        = "join"
	InboundJoinRoom    = "joinRoom"
	InboundChatMessage = "chatMessage"
	InboundSendMessage = "sendMessage"
	InboundTyping      = "typing"
	InboundStopTyping  = "stopTyping"
	InboundLeaveRoom   = "leaveRoom"
)

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is Frame with a typed payload for encoding.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ParseFrame decodes one inbound socket message.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// inbound payloads

type joinPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type sendMessagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	FileID string `json:"fileId"`
}

// roomRef accepts either a bare room id string or an object with roomId.
type roomRef struct {
	RoomID string
}

func (r *roomRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.RoomID)
	}

	var obj struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.RoomID = obj.RoomID
	return nil
}

// chatText accepts either a bare string or an object with text.
type chatText struct {
	Text string
}

func (c *chatText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &c.Text)
	}

	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	c.Text = obj.Text
	return nil
}

// outbound payloads, rooms dialect

type welcomePayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
	Text     string `json:"text"`
}

type roomUserPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type stoppedTypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type roomUsersPayload struct {
	Room     string      `json:"room"`
	RoomName string      `json:"roomName"`
	Users    []user.User `json:"users"`
}

type newMessagePayload struct {
	Message
	UserID string `json:"userId"`
}

type presencePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type roomCreatedPayload struct {
	Room RoomInfo `json:"room"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// outbound payloads, legacy dialect

type legacyMessagePayload struct {
	User string `json:"user"`
	Text string `json:"text"`
	Time string `json:"time"`
}

type legacyUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type legacyRoomUsersPayload struct {
	Room  string       `json:"room"`
	Users []legacyUser `json:"users"`
}

// EncodeFrame renders ev for a connection speaking dialect d. A nil slice with a nil
// error means the dialect has no representation for the event and nothing is sent.
func EncodeFrame(ev Event, d Dialect) ([]byte, error) {
	var f outFrame
	var ok bool

	if d == DialectLegacy {
		f, ok = legacyFrame(ev)
	} else {
		f, ok = roomsFrame(ev)
	}

	if !ok {
		return nil, nil
	}

	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", ev.Kind, err)
	}
	return b, nil
}

func welcomeText(room Room) string {
	return fmt.Sprintf("Welcome to room %s!", room.Name)
}

func roomsFrame(ev Event) (outFrame, bool) {
	name := string(ev.Kind)

	switch ev.Kind {
	case EventWelcome:
		return outFrame{name, welcomePayload{RoomID: ev.Room.ID, RoomName: ev.Room.Name, Text: welcomeText(ev.Room)}}, true

	case EventUserJoinedRoom, EventUserLeftRoom, EventUserTyping:
		return outFrame{name, roomUserPayload{RoomID: ev.Room.ID, UserID: ev.User.ID, UserName: ev.User.DisplayName()}}, true

	case EventUserStoppedTyping:
		return outFrame{name, stoppedTypingPayload{RoomID: ev.Room.ID, UserID: ev.User.ID}}, true

	case EventRoomUsers:
		users := ev.Users
		if users == nil {
			users = []user.User{}
		}
		return outFrame{name, roomUsersPayload{Room: ev.Room.ID, RoomName: ev.Room.Name, Users: users}}, true

	case EventNewMessage:
		if ev.Message == nil {
			return outFrame{}, false
		}
		return outFrame{name, newMessagePayload{Message: *ev.Message, UserID: ev.Message.Author.ID}}, true

	case EventUserConnected, EventUserDisconnected:
		return outFrame{name, presencePayload{UserID: ev.User.ID, UserName: ev.User.DisplayName()}}, true

	case EventRoomCreated:
		return outFrame{name, roomCreatedPayload{Room: RoomInfo{Room: ev.Room}}}, true

	case EventError:
		return outFrame{name, errorFrom(ev)}, true
	}

	return outFrame{}, false
}

func legacyFrame(ev Event) (outFrame, bool) {
	clock := ev.At.Format(legacyTimeLayout)
	notice := func(text string) (outFrame, bool) {
		return outFrame{"message", legacyMessagePayload{User: SystemUserName, Text: text, Time: clock}}, true
	}

	switch ev.Kind {
	case EventWelcome:
		return notice(welcomeText(ev.Room))

	case EventUserJoinedRoom:
		return notice(ev.User.DisplayName() + " has joined the chat")

	case EventUserLeftRoom:
		return notice(ev.User.DisplayName() + " has left the chat")

	case EventNewMessage:
		if ev.Message == nil {
			return outFrame{}, false
		}
		return outFrame{"message", legacyMessagePayload{
			User: ev.Message.Author.DisplayName(),
			Text: ev.Message.Text,
			Time: ev.Message.Timestamp.Format(legacyTimeLayout),
		}}, true

	case EventRoomUsers:
		users := make([]legacyUser, len(ev.Users))
		for i, u := range ev.Users {
			users[i] = legacyUser{ID: u.ID, Username: u.DisplayName(), Room: ev.Room.Name}
		}
		return outFrame{"roomUsers", legacyRoomUsersPayload{Room: ev.Room.Name, Users: users}}, true

	case EventError:
		return outFrame{"error", errorFrom(ev)}, true
	}

	return outFrame{}, false
}

func errorFrom(ev Event) errorPayload {
	if ev.Err == nil {
		return errorPayload{}
	}
	return errorPayload{Code: ev.Err.Code, Message: ev.Err.Message}
}
