package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/randx"
)

const (
	// MaxContentBytes is the maximum size of message text.
	MaxContentBytes = 5000

	// DefaultHistoryLimit caps history loads when no limit is configured.
	DefaultHistoryLimit = 50
)

// Authenticator validates the credential presented when a socket opens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.User, error)
}

// Store persists rooms and messages. LoadRoomMetadata reports unknown rooms with
// errs.ErrRoomNotFound.
type Store interface {
	PersistMessage(ctx context.Context, msg Message) (string, error)
	LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
	LoadRoomMetadata(ctx context.Context, roomID string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	SaveRoom(ctx context.Context, room Room) error
}

// GatewayOptions wires the Gateway's collaborators. Store and Attachments are optional.
type GatewayOptions struct {
	Auth          Authenticator
	Store         Store
	Attachments   AttachmentResolver
	TypingTimeout time.Duration
	HistoryLimit  int
}

// Gateway runs the per-connection state machine and applies join, leave and disconnect
// to Presence and Directory as single transactions. Events are emitted only after the
// transaction lock is released.
type Gateway struct {
	auth        Authenticator
	store       Store
	attachments AttachmentResolver

	presence  *Presence
	directory *Directory
	router    *Router
	typing    *Typing

	// historyLimit caps LoadRecentMessages.
	historyLimit int

	// now is the event clock.
	now func() time.Time

	// mu serializes presence and membership mutations.
	mu sync.Mutex

	// createMu serializes find-or-create by room name.
	createMu sync.Mutex

	// typingMu orders typing notices against the stops that end them. It is never
	// acquired while mu is held.
	typingMu sync.Mutex

	logger zerolog.Logger
}

// NewGateway assembles a Gateway over the shared registries.
func NewGateway(presence *Presence, directory *Directory, router *Router, opts GatewayOptions) *Gateway {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	g := &Gateway{
		auth:         opts.Auth,
		store:        opts.Store,
		attachments:  opts.Attachments,
		presence:     presence,
		directory:    directory,
		router:       router,
		historyLimit: limit,
		now:          time.Now,
		logger:       logx.Component("Gateway"),
	}
	g.typing = NewTyping(opts.TypingTimeout, g.onTypingExpired)

	return g
}

// Open authenticates token and, on success, registers the connection and makes it
// reachable through sender. On failure nothing is registered and ErrUnauthorized is
// returned; the caller closes the transport.
func (g *Gateway) Open(ctx context.Context, token string, sender Sender) (*Session, error) {
	s := newSession(ConnID(randx.ConnectionID()))

	if g.auth == nil {
		s.disconnect()
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	u, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		s.disconnect()
		s.Logger().Info().Err(err).Msg("Connection rejected by authenticator")
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	g.mu.Lock()
	if _, err := g.presence.Register(s.ID, u); err != nil {
		g.mu.Unlock()
		s.disconnect()
		s.Logger().Error().Err(err).Msg("Presence registration failed")
		return nil, err
	}
	g.router.Attach(s.ID, sender)
	firstConnection := g.presence.ConnectionsOf(u.ID) == 1
	s.authenticate(u)
	g.mu.Unlock()

	s.Logger().Info().Str("user_name", u.Name).Str("user_type", u.UserType).Msg("Session authenticated")

	if firstConnection {
		g.router.BroadcastAll(presenceEvent(EventUserConnected, u, g.now()), s.ID)
	}

	return s, nil
}

// Join moves the session into roomID, leaving its previous room first. Unknown rooms
// are looked up in the Store before failing with ErrRoomNotFound, which is also sent
// to the session as an error event. Joining the current room again is a no-op.
func (g *Gateway) Join(ctx context.Context, s *Session, roomID string) error {
	return g.join(ctx, s, roomID, false)
}

// join implements Join. When renamed is set, rejoining the current room still
// refreshes the occupant list so members see the new name.
func (g *Gateway) join(ctx context.Context, s *Session, roomID string, renamed bool) error {
	room, err := g.resolveRoom(ctx, roomID)
	if err != nil {
		return g.reject(s, err)
	}

	g.mu.Lock()
	entry, err := g.presence.Get(s.ID)
	if err != nil {
		g.mu.Unlock()
		return err
	}

	prevID := entry.RoomID
	if prevID == room.ID {
		var occupants []user.User
		if renamed {
			occupants = g.presence.ListByRoom(room.ID)
		}
		g.mu.Unlock()

		if renamed {
			g.router.SendToRoom(room.ID, roomUsersEvent(room, occupants, g.now()), "")
		}
		return nil
	}

	if prevID != "" {
		g.directory.Leave(prevID, s.ID)
	}
	if err := g.presence.SetRoom(s.ID, room.ID); err != nil {
		g.mu.Unlock()
		return err
	}
	if err := g.directory.Join(room.ID, s.ID); err != nil {
		_ = g.presence.SetRoom(s.ID, prevID)
		if prevID != "" {
			_ = g.directory.Join(prevID, s.ID)
		}
		g.mu.Unlock()
		return g.reject(s, err)
	}

	s.enterRoom(room.ID)
	occupants := g.presence.ListByRoom(room.ID)
	var prevOccupants []user.User
	if prevID != "" {
		prevOccupants = g.presence.ListByRoom(prevID)
	}
	g.mu.Unlock()

	now := g.now()
	if prevID != "" {
		g.announceLeave(prevID, entry.User, s.ID, prevOccupants, now)
	}

	_ = g.router.SendToConnection(s.ID, welcomeEvent(room, entry.User, now))
	g.router.SendToRoom(room.ID, joinedEvent(room, entry.User, now), s.ID)
	g.router.SendToRoom(room.ID, roomUsersEvent(room, occupants, now), "")

	s.Logger().Info().
		Str("room_id", room.ID).
		Str("previous_room_id", prevID).
		Int("occupants", len(occupants)).
		Msg("Session joined room")

	return nil
}

// JoinByName renames the session when username is set, then joins the room named
// roomName, creating it when no room has that name.
func (g *Gateway) JoinByName(ctx context.Context, s *Session, username, roomName string) error {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return g.reject(s, errs.NewError(errs.ErrInvalidParams))
	}

	renamed := false
	if username = strings.TrimSpace(username); username != "" && username != s.User().Name {
		g.mu.Lock()
		u, err := g.presence.Rename(s.ID, username)
		if err == nil {
			s.rename(u)
		}
		g.mu.Unlock()

		if err != nil {
			return err
		}
		renamed = true
	}

	g.createMu.Lock()
	room, found := g.directory.FindByName(roomName)
	if !found {
		created, err := g.createRoom(ctx, s.User(), roomName, "", false)
		if err != nil {
			g.createMu.Unlock()
			return g.reject(s, err)
		}
		room = created
	}
	g.createMu.Unlock()

	return g.join(ctx, s, room.ID, renamed)
}

// Leave takes the session out of roomID. Leaving a room the session is not in, or
// leaving while in no room, is a no-op. An empty roomID means the current room.
func (g *Gateway) Leave(ctx context.Context, s *Session, roomID string) error {
	g.mu.Lock()
	entry, err := g.presence.Get(s.ID)
	if err != nil {
		g.mu.Unlock()
		return err
	}

	current := entry.RoomID
	if current == "" || (roomID != "" && roomID != current) {
		g.mu.Unlock()
		return nil
	}

	if err := g.presence.SetRoom(s.ID, ""); err != nil {
		g.mu.Unlock()
		return err
	}
	g.directory.Leave(current, s.ID)
	s.leaveRoom()
	occupants := g.presence.ListByRoom(current)
	g.mu.Unlock()

	g.announceLeave(current, entry.User, s.ID, occupants, g.now())

	s.Logger().Info().Str("room_id", current).Msg("Session left room")
	return nil
}

// Disconnect tears the session down. It is idempotent and safe to run concurrently
// with any other operation on the same session.
func (g *Gateway) Disconnect(s *Session) {
	if s == nil {
		return
	}

	g.mu.Lock()
	entry, err := g.presence.Unregister(s.ID)
	if err != nil {
		g.mu.Unlock()
		s.disconnect()
		return
	}

	var occupants []user.User
	if entry.RoomID != "" {
		g.directory.Leave(entry.RoomID, s.ID)
		occupants = g.presence.ListByRoom(entry.RoomID)
	}
	lastConnection := g.presence.ConnectionsOf(entry.User.ID) == 0
	s.disconnect()
	g.mu.Unlock()

	g.router.Detach(s.ID)

	now := g.now()
	if entry.RoomID != "" {
		g.announceLeave(entry.RoomID, entry.User, s.ID, occupants, now)
	}
	if lastConnection {
		g.router.BroadcastAll(presenceEvent(EventUserDisconnected, entry.User, now), s.ID)
	}

	s.Logger().Info().Str("room_id", entry.RoomID).Msg("Session disconnected")
}

// SendMessage broadcasts a message to every member of roomID, the sender included.
// An empty roomID means the current room. Persistence failures are logged and do not
// stop the broadcast.
func (g *Gateway) SendMessage(ctx context.Context, s *Session, roomID, text, fileID string) (Message, error) {
	entry, err := g.presence.Get(s.ID)
	if err != nil {
		return Message{}, err
	}

	if roomID == "" {
		roomID = entry.RoomID
	}
	if roomID == "" || roomID != entry.RoomID {
		return Message{}, g.reject(s, errs.NewError(errs.ErrNotInRoom))
	}

	fileID = strings.TrimSpace(fileID)
	if strings.TrimSpace(text) == "" && fileID == "" {
		return Message{}, g.reject(s, errs.NewError(errs.ErrMessageEmpty))
	}
	if len(text) > MaxContentBytes {
		return Message{}, g.reject(s, errs.NewError(errs.ErrMessageContentTooLong))
	}

	room, err := g.directory.Get(roomID)
	if err != nil {
		return Message{}, g.reject(s, err)
	}

	msg := Message{
		ID:        randx.MessageID(),
		RoomID:    roomID,
		Author:    entry.User,
		Text:      text,
		FileID:    fileID,
		Timestamp: g.now().UTC(),
	}

	if fileID != "" {
		ref, err := g.resolveFile(ctx, fileID)
		if err != nil {
			return Message{}, g.reject(s, err)
		}
		msg.File = &ref
	}

	if g.store != nil {
		id, err := g.store.PersistMessage(ctx, msg)
		if err != nil {
			s.Logger().Warn().Err(err).Str("room_id", roomID).Msg("Failed to persist message, broadcasting anyway")
		} else if id != "" {
			msg.ID = id
		}
	}

	g.stopTyping(roomID, entry.User.ID)

	delivered := g.router.SendToRoom(roomID, messageEvent(room, msg), "")

	s.Logger().Debug().
		Str("room_id", roomID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("Message broadcast")

	return msg, nil
}

// Typing records a typing signal in roomID (empty means the current room). The first
// signal of an episode notifies the other members; later ones only extend it.
func (g *Gateway) Typing(ctx context.Context, s *Session, roomID string) error {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()

	entry, err := g.presence.Get(s.ID)
	if err != nil {
		return err
	}

	if roomID == "" {
		roomID = entry.RoomID
	}
	if roomID == "" || !g.directory.IsMember(roomID, s.ID) {
		return errs.NewError(errs.ErrNotInRoom)
	}

	if g.typing.Start(TypingEpisode{RoomID: roomID, User: entry.User, Conn: s.ID}) {
		room := g.roomOrStub(roomID)
		g.router.SendToRoom(roomID, typingEvent(EventUserTyping, room, entry.User, g.now()), s.ID)
	}

	return nil
}

// StopTyping ends the session user's typing episode in roomID, if one is open.
func (g *Gateway) StopTyping(ctx context.Context, s *Session, roomID string) error {
	entry, err := g.presence.Get(s.ID)
	if err != nil {
		return err
	}

	if roomID == "" {
		roomID = entry.RoomID
	}

	g.stopTyping(roomID, entry.User.ID)
	return nil
}

// CreateRoom registers a new room, persists it when a Store is configured, and
// announces it to every connection.
func (g *Gateway) CreateRoom(ctx context.Context, creator user.User, name, description string, isPrivate bool) (Room, error) {
	return g.createRoom(ctx, creator, name, description, isPrivate)
}

func (g *Gateway) createRoom(ctx context.Context, creator user.User, name, description string, isPrivate bool) (Room, error) {
	if n := utf8.RuneCountInString(strings.TrimSpace(name)); n == 0 || n > MaxRoomNameLength {
		return Room{}, errs.NewError(errs.ErrRoomNameInvalid, MaxRoomNameLength)
	}
	if utf8.RuneCountInString(description) > MaxRoomDescriptionLength {
		return Room{}, errs.NewError(errs.ErrInvalidParams)
	}

	room := g.directory.Create(name, description, isPrivate, creator)

	if g.store != nil {
		if err := g.store.SaveRoom(ctx, room); err != nil {
			g.logger.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to persist room, keeping it in memory")
		}
	}

	g.logger.Info().Str("room_id", room.ID).Str("name", room.Name).Str("created_by", creator.ID).Msg("Room created")

	g.router.BroadcastAll(roomCreatedEvent(room, creator, g.now()), "")
	return room, nil
}

// Rooms lists every room with its occupancy.
func (g *Gateway) Rooms() []RoomInfo {
	return g.directory.List()
}

// OnlineUsers lists distinct connected users.
func (g *Gateway) OnlineUsers() []user.User {
	return g.presence.Online()
}

// History returns up to limit recent messages of roomID, oldest first. Without a Store
// it returns an empty history.
func (g *Gateway) History(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if _, err := g.resolveRoom(ctx, roomID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > g.historyLimit {
		limit = g.historyLimit
	}

	if g.store == nil {
		return []Message{}, nil
	}

	msgs, err := g.store.LoadRecentMessages(ctx, roomID, limit)
	if err != nil {
		g.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to load history")
		return nil, errs.NewError(errs.ErrStorageFailed)
	}

	return msgs, nil
}

// Handle dispatches one inbound frame. User-visible failures have already been sent
// to the session as error events when Handle returns them.
func (g *Gateway) Handle(ctx context.Context, s *Session, f Frame) error {
	if s.State() == StateDisconnected {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	switch f.Event {
	case InboundJoin:
		var p joinPayload
		if err := decodeData(f, &p); err != nil {
			return g.reject(s, err)
		}
		return g.JoinByName(ctx, s, p.Username, p.Room)

	case InboundJoinRoom:
		var ref roomRef
		if err := decodeData(f, &ref); err != nil {
			return g.reject(s, err)
		}
		return g.Join(ctx, s, ref.RoomID)

	case InboundLeaveRoom:
		var ref roomRef
		if err := decodeData(f, &ref); err != nil {
			return g.reject(s, err)
		}
		return g.Leave(ctx, s, ref.RoomID)

	case InboundChatMessage:
		var t chatText
		if err := decodeData(f, &t); err != nil {
			return g.reject(s, err)
		}
		_, err := g.SendMessage(ctx, s, "", t.Text, "")
		return err

	case InboundSendMessage:
		var p sendMessagePayload
		if err := decodeData(f, &p); err != nil {
			return g.reject(s, err)
		}
		_, err := g.SendMessage(ctx, s, p.RoomID, p.Text, p.FileID)
		return err

	case InboundTyping:
		var ref roomRef
		if err := decodeData(f, &ref); err != nil {
			return err
		}
		return g.Typing(ctx, s, ref.RoomID)

	case InboundStopTyping:
		var ref roomRef
		if err := decodeData(f, &ref); err != nil {
			return err
		}
		return g.StopTyping(ctx, s, ref.RoomID)
	}

	return g.reject(s, errs.NewError(errs.ErrUnsupportedEvent, f.Event))
}

// Close cancels pending typing timers. Connections are closed by the Manager.
func (g *Gateway) Close() {
	g.typing.Close()
}

func decodeData(f Frame, dst any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return errs.NewError(errs.ErrInvalidParams)
	}
	return nil
}

// resolveRoom finds roomID in the Directory, falling back to the Store.
func (g *Gateway) resolveRoom(ctx context.Context, roomID string) (Room, error) {
	if room, err := g.directory.Get(roomID); err == nil {
		return room, nil
	}

	if g.store == nil || !randx.IsValidRoomID(roomID) {
		return Room{}, errs.NewError(errs.ErrRoomNotFound)
	}

	room, err := g.store.LoadRoomMetadata(ctx, roomID)
	if err != nil {
		if errs.Is(err, errs.ErrRoomNotFound) {
			return Room{}, errs.NewError(errs.ErrRoomNotFound)
		}
		g.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to load room metadata")
		return Room{}, errs.NewError(errs.ErrStorageFailed)
	}

	g.directory.Restore(room)
	return room, nil
}

func (g *Gateway) resolveFile(ctx context.Context, key string) (FileRef, error) {
	if _, verr := ValidateFileKey(key); verr != nil {
		return FileRef{}, verr
	}

	if g.attachments == nil {
		return FileRef{}, errs.NewError(errs.ErrAttachmentKeyInvalid)
	}

	return g.attachments.Resolve(ctx, key)
}

// roomOrStub returns the room metadata, or a stub carrying only the id.
func (g *Gateway) roomOrStub(roomID string) Room {
	if room, err := g.directory.Get(roomID); err == nil {
		return room
	}
	return Room{ID: roomID}
}

// announceLeave ends the leaver's typing episode and tells the remaining members.
func (g *Gateway) announceLeave(roomID string, u user.User, conn ConnID, occupants []user.User, at time.Time) {
	g.stopTyping(roomID, u.ID)

	room := g.roomOrStub(roomID)
	g.router.SendToRoom(roomID, leftEvent(room, u, at), conn)
	g.router.SendToRoom(roomID, roomUsersEvent(room, occupants, at), "")
}

// stopTyping ends userID's episode in roomID, if one is open, and tells the room.
func (g *Gateway) stopTyping(roomID, userID string) {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()

	if ep, ok := g.typing.Stop(roomID, userID); ok {
		g.sendStoppedTyping(ep)
	}
}

// onTypingExpired is the Typing expiry callback. A new episode opened between the
// expiry and this call keeps the user shown as typing, so nothing is sent.
func (g *Gateway) onTypingExpired(ep TypingEpisode) {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()

	if g.typing.Active(ep.RoomID, ep.User.ID) {
		return
	}
	g.sendStoppedTyping(ep)
}

func (g *Gateway) sendStoppedTyping(ep TypingEpisode) {
	room := g.roomOrStub(ep.RoomID)
	g.router.SendToRoom(ep.RoomID, typingEvent(EventUserStoppedTyping, room, ep.User, g.now()), ep.Conn)
}

// reject sends err to the session as an error event and returns it. Sessions that are
// already gone get nothing.
func (g *Gateway) reject(s *Session, err error) error {
	if errs.Is(err, errs.ErrUnknownConnection) {
		return err
	}

	_ = g.router.SendToConnection(s.ID, ErrorEvent(err, g.now()))
	return err
}
