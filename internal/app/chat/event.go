package chat

import (
	"time"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
)

// EventKind names an outbound event.
type EventKind string

const (
	EventWelcome           EventKind = "welcome"
	EventUserJoinedRoom    EventKind = "userJoinedRoom"
	EventUserLeftRoom      EventKind = "userLeftRoom"
	EventNewMessage        EventKind = "newMessage"
	EventUserTyping        EventKind = "userTyping"
	EventUserStoppedTyping EventKind = "userStoppedTyping"
	EventRoomUsers         EventKind = "roomUsers"
	EventError             EventKind = "error"
	EventUserConnected     EventKind = "userConnected"
	EventUserDisconnected  EventKind = "userDisconnected"
	EventRoomCreated       EventKind = "roomCreated"
)

// SystemUserName is the author shown on server generated notices.
const SystemUserName = "Admin"

// Message is a chat message. Immutable once broadcast.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Author    user.User `json:"user"`
	Text      string    `json:"text"`
	FileID    string    `json:"fileId,omitempty"`
	File      *FileRef  `json:"file,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a transport-independent outbound notification. Only the fields relevant to
// Kind are set; the wire codec shapes it per connection dialect.
type Event struct {
	Kind EventKind

	// Room is the room the event concerns.
	Room Room

	// User is the subject of join, leave, typing and presence notices.
	User user.User

	// Users is the occupant list of a roomUsers refresh.
	Users []user.User

	// Message is set on newMessage.
	Message *Message

	// Err is set on error.
	Err *errs.CustomError

	// At is when the event was produced.
	At time.Time
}

func welcomeEvent(room Room, u user.User, at time.Time) Event {
	return Event{Kind: EventWelcome, Room: room, User: u, At: at}
}

func joinedEvent(room Room, u user.User, at time.Time) Event {
	return Event{Kind: EventUserJoinedRoom, Room: room, User: u, At: at}
}

func leftEvent(room Room, u user.User, at time.Time) Event {
	return Event{Kind: EventUserLeftRoom, Room: room, User: u, At: at}
}

func roomUsersEvent(room Room, users []user.User, at time.Time) Event {
	return Event{Kind: EventRoomUsers, Room: room, Users: users, At: at}
}

func messageEvent(room Room, msg Message) Event {
	return Event{Kind: EventNewMessage, Room: room, User: msg.Author, Message: &msg, At: msg.Timestamp}
}

func typingEvent(kind EventKind, room Room, u user.User, at time.Time) Event {
	return Event{Kind: kind, Room: room, User: u, At: at}
}

func presenceEvent(kind EventKind, u user.User, at time.Time) Event {
	return Event{Kind: kind, User: u, At: at}
}

func roomCreatedEvent(room Room, creator user.User, at time.Time) Event {
	return Event{Kind: EventRoomCreated, Room: room, User: creator, At: at}
}

// ErrorEvent wraps err for delivery to a single connection.
func ErrorEvent(err error, at time.Time) Event {
	return Event{Kind: EventError, Err: errs.From(err), At: at}
}
