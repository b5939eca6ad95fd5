package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomcast/internal/pkg/errs"
)

func errorCode(t *testing.T, s *recordingSender) int {
	t.Helper()

	ev, ok := s.last(EventError)
	require.True(t, ok, "expected an error event")
	require.NotNil(t, ev.Err)
	return ev.Err.Code
}

func TestGatewayOpenRejectsBadToken(t *testing.T) {
	f := newFixture(t, GatewayOptions{})

	s, err := f.gateway.Open(context.Background(), "mallory", &recordingSender{})

	assert.Nil(t, s)
	assert.True(t, errs.Is(err, errs.ErrUnauthorized))
	assert.Equal(t, 0, f.presence.Len())
	assert.Equal(t, 0, f.router.Len())
}

func TestGatewayOpenAnnouncesFirstConnectionOnly(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	bobSession, bobOut := f.open(t, "bob")

	a1, _ := f.open(t, "alice")
	a2, _ := f.open(t, "alice")

	assert.Equal(t, StateAuthenticated, a1.State())
	assert.Len(t, bobOut.ofKind(EventUserConnected), 1)

	f.gateway.Disconnect(a1)
	assert.Empty(t, bobOut.ofKind(EventUserDisconnected), "alice still has a connection")

	f.gateway.Disconnect(a2)
	gone, ok := bobOut.last(EventUserDisconnected)
	require.True(t, ok)
	assert.Equal(t, alice.ID, gone.User.ID)

	assert.Equal(t, StateAuthenticated, bobSession.State())
}

func TestGatewayJoinSequence(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")

	a, aOut := f.open(t, "alice")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))

	assert.Equal(t, StateInRoom, a.State())
	assert.Equal(t, room.ID, a.RoomID())
	assert.Equal(t, []EventKind{EventWelcome, EventRoomUsers}, aOut.kinds())

	b, bOut := f.open(t, "bob")
	aOut.reset()
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))

	assert.Equal(t, []EventKind{EventWelcome, EventRoomUsers}, bOut.kinds(), "bob sees no notice about himself")
	assert.Equal(t, []EventKind{EventUserJoinedRoom, EventRoomUsers}, aOut.kinds())

	joined, _ := aOut.last(EventUserJoinedRoom)
	assert.Equal(t, bob.ID, joined.User.ID)

	occupants, _ := bOut.last(EventRoomUsers)
	assert.Equal(t, []string{alice.ID, bob.ID}, userIDs(occupants.Users))

	assert.ElementsMatch(t, []ConnID{a.ID, b.ID}, f.directory.Members(room.ID))
}

func TestGatewayJoinSameRoomIsNoop(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	a, aOut := f.open(t, "alice")

	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	aOut.reset()
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))

	assert.Empty(t, aOut.kinds())
}

func TestGatewayJoinUnknownRoom(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	a, aOut := f.open(t, "alice")

	err := f.gateway.Join(context.Background(), a, "missing")

	assert.True(t, errs.Is(err, errs.ErrRoomNotFound))
	assert.Equal(t, errs.ErrRoomNotFound, errorCode(t, aOut))
	assert.Equal(t, StateAuthenticated, a.State())
	assert.Empty(t, a.RoomID())
}

func TestGatewayRejoinLeavesPreviousRoom(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	general := f.room("general")
	random := f.room("random")

	a, _ := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(context.Background(), a, general.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, general.ID))
	bOut.reset()

	require.NoError(t, f.gateway.Join(context.Background(), a, random.ID))

	left, ok := bOut.last(EventUserLeftRoom)
	require.True(t, ok)
	assert.Equal(t, alice.ID, left.User.ID)
	assert.Equal(t, general.ID, left.Room.ID)

	occupants, _ := bOut.last(EventRoomUsers)
	assert.Equal(t, []string{bob.ID}, userIDs(occupants.Users))

	assert.False(t, f.directory.IsMember(general.ID, a.ID))
	assert.True(t, f.directory.IsMember(random.ID, a.ID))
	assert.Equal(t, random.ID, a.RoomID())
}

func TestGatewayLeave(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, bOut := f.open(t, "bob")

	require.NoError(t, f.gateway.Leave(context.Background(), a, room.ID))
	assert.Empty(t, aOut.ofKind(EventUserLeftRoom))

	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))
	bOut.reset()

	require.NoError(t, f.gateway.Leave(context.Background(), a, "other"))
	assert.Empty(t, bOut.kinds(), "leaving a room you are not in changes nothing")

	require.NoError(t, f.gateway.Leave(context.Background(), a, ""))
	assert.Equal(t, []EventKind{EventUserLeftRoom, EventRoomUsers}, bOut.kinds())
	assert.Equal(t, StateAuthenticated, a.State())
	assert.Empty(t, a.RoomID())
}

func TestGatewayDisconnect(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))
	bOut.reset()
	aOut.reset()

	f.gateway.Disconnect(a)

	assert.Equal(t, []EventKind{EventUserLeftRoom, EventRoomUsers, EventUserDisconnected}, bOut.kinds())
	occupants, _ := bOut.last(EventRoomUsers)
	assert.Equal(t, []string{bob.ID}, userIDs(occupants.Users))
	assert.Empty(t, aOut.kinds(), "a detached connection receives nothing")

	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, 1, f.presence.Len())
	assert.Equal(t, 1, f.router.Len())
	assert.Equal(t, []ConnID{b.ID}, f.directory.Members(room.ID))

	bOut.reset()
	f.gateway.Disconnect(a)
	assert.Empty(t, bOut.kinds(), "a second disconnect emits nothing")
}

func TestGatewayOperationsAfterDisconnect(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	a, _ := f.open(t, "alice")
	f.gateway.Disconnect(a)

	err := f.gateway.Join(context.Background(), a, room.ID)
	assert.True(t, errs.Is(err, errs.ErrUnknownConnection))
	assert.Empty(t, f.directory.Members(room.ID))

	_, err = f.gateway.SendMessage(context.Background(), a, room.ID, "hi", "")
	assert.True(t, errs.Is(err, errs.ErrUnknownConnection))

	err = f.gateway.Handle(context.Background(), a, Frame{Event: InboundJoinRoom})
	assert.True(t, errs.Is(err, errs.ErrUnknownConnection))
}

func TestGatewaySendMessageReachesWholeRoom(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.gateway.now = fixedClock(at)

	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	_, cOut := f.open(t, "carol")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))

	msg, err := f.gateway.SendMessage(context.Background(), a, room.ID, "hi", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, alice.ID, msg.Author.ID)

	for _, out := range []*recordingSender{aOut, bOut} {
		got, ok := out.last(EventNewMessage)
		require.True(t, ok)
		assert.Equal(t, msg.ID, got.Message.ID)
		assert.Equal(t, "hi", got.Message.Text)
	}
	assert.Empty(t, cOut.ofKind(EventNewMessage), "non-members get nothing")
}

func TestGatewaySendMessageValidation(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	other := f.room("random")
	a, aOut := f.open(t, "alice")

	_, err := f.gateway.SendMessage(context.Background(), a, "", "hi", "")
	assert.True(t, errs.Is(err, errs.ErrNotInRoom))

	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))

	tests := []struct {
		name   string
		roomID string
		text   string
		fileID string
		code   int
	}{
		{"other room", other.ID, "hi", "", errs.ErrNotInRoom},
		{"blank", room.ID, "   ", "", errs.ErrMessageEmpty},
		{"too long", room.ID, strings.Repeat("x", MaxContentBytes+1), "", errs.ErrMessageContentTooLong},
		{"attachment without storage", room.ID, "", "abc.png", errs.ErrAttachmentKeyInvalid},
		{"bad attachment key", room.ID, "", "../etc/passwd", errs.ErrAttachmentKeyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aOut.reset()
			_, err := f.gateway.SendMessage(context.Background(), a, tt.roomID, tt.text, tt.fileID)
			assert.True(t, errs.Is(err, tt.code), "got %v", err)
			assert.Equal(t, tt.code, errorCode(t, aOut))
			assert.Empty(t, aOut.ofKind(EventNewMessage))
		})
	}

	_, err = f.gateway.SendMessage(context.Background(), a, "", strings.Repeat("x", MaxContentBytes), "")
	assert.NoError(t, err, "the limit itself is allowed")
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, key string) (FileRef, error) {
	return FileRef{Key: key, URL: DownloadURL(key), MimeType: "image/png", Size: 10}, nil
}

func TestGatewaySendMessageWithAttachment(t *testing.T) {
	f := newFixture(t, GatewayOptions{Attachments: stubResolver{}})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))

	msg, err := f.gateway.SendMessage(context.Background(), a, "", "", "abc.png")
	require.NoError(t, err)
	require.NotNil(t, msg.File)
	assert.Equal(t, "abc.png", msg.File.Key)

	got, _ := aOut.last(EventNewMessage)
	assert.Equal(t, "abc.png", got.Message.FileID)
}

func TestGatewayPersistsMessages(t *testing.T) {
	store := &mockStore{}
	f := newFixture(t, GatewayOptions{Store: store})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))

	store.On("PersistMessage", mock.Anything, mock.MatchedBy(func(m Message) bool {
		return m.Text == "first"
	})).Return("42", nil).Once()
	store.On("PersistMessage", mock.Anything, mock.MatchedBy(func(m Message) bool {
		return m.Text == "second"
	})).Return("", errors.New("db down")).Once()

	msg, err := f.gateway.SendMessage(context.Background(), a, "", "first", "")
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)

	msg, err = f.gateway.SendMessage(context.Background(), a, "", "second", "")
	require.NoError(t, err, "persistence failures do not block delivery")
	assert.NotEmpty(t, msg.ID)

	assert.Len(t, aOut.ofKind(EventNewMessage), 2)
	store.AssertExpectations(t)
}

func TestGatewayJoinFallsBackToStore(t *testing.T) {
	store := &mockStore{}
	f := newFixture(t, GatewayOptions{Store: store})
	a, aOut := f.open(t, "alice")

	store.On("LoadRoomMetadata", mock.Anything, "rOld0001").Return(Room{ID: "rOld0001", Name: "Archive"}, nil).Once()
	store.On("LoadRoomMetadata", mock.Anything, "rGone001").Return(Room{}, errs.NewError(errs.ErrRoomNotFound)).Once()
	store.On("LoadRoomMetadata", mock.Anything, "rErr0001").Return(Room{}, errors.New("timeout")).Once()

	require.NoError(t, f.gateway.Join(context.Background(), a, "rOld0001"))
	welcome, ok := aOut.last(EventWelcome)
	require.True(t, ok)
	assert.Equal(t, "Archive", welcome.Room.Name)
	assert.Equal(t, 1, f.directory.Len())

	err := f.gateway.Join(context.Background(), a, "rGone001")
	assert.True(t, errs.Is(err, errs.ErrRoomNotFound))

	err = f.gateway.Join(context.Background(), a, "rErr0001")
	assert.True(t, errs.Is(err, errs.ErrStorageFailed))
	assert.Equal(t, "rOld0001", a.RoomID(), "failed joins keep the current room")

	err = f.gateway.Join(context.Background(), a, "r-bad")
	assert.True(t, errs.Is(err, errs.ErrRoomNotFound))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "LoadRoomMetadata", mock.Anything, "r-bad")
}

func TestGatewayCreateRoom(t *testing.T) {
	store := &mockStore{}
	f := newFixture(t, GatewayOptions{Store: store})
	_, aOut := f.open(t, "alice")
	_, bOut := f.open(t, "bob")

	store.On("SaveRoom", mock.Anything, mock.AnythingOfType("chat.Room")).Return(nil).Once()

	room, err := f.gateway.CreateRoom(context.Background(), alice, "general", "talk", false)
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)

	for _, out := range []*recordingSender{aOut, bOut} {
		created, ok := out.last(EventRoomCreated)
		require.True(t, ok)
		assert.Equal(t, room.ID, created.Room.ID)
	}

	_, err = f.gateway.CreateRoom(context.Background(), alice, "  ", "", false)
	assert.True(t, errs.Is(err, errs.ErrRoomNameInvalid))

	_, err = f.gateway.CreateRoom(context.Background(), alice, strings.Repeat("é", MaxRoomNameLength+1), "", false)
	assert.True(t, errs.Is(err, errs.ErrRoomNameInvalid))

	assert.Len(t, f.gateway.Rooms(), 1)
	store.AssertExpectations(t)
}

func TestGatewayCreateRoomKeepsRoomWhenSaveFails(t *testing.T) {
	store := &mockStore{}
	f := newFixture(t, GatewayOptions{Store: store})
	store.On("SaveRoom", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	room, err := f.gateway.CreateRoom(context.Background(), alice, "general", "", false)
	require.NoError(t, err)

	_, err = f.directory.Get(room.ID)
	assert.NoError(t, err)
}

func TestGatewayHistory(t *testing.T) {
	t.Run("without a store", func(t *testing.T) {
		f := newFixture(t, GatewayOptions{})
		room := f.room("general")

		msgs, err := f.gateway.History(context.Background(), room.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		_, err = f.gateway.History(context.Background(), "missing", 10)
		assert.True(t, errs.Is(err, errs.ErrRoomNotFound))
	})

	t.Run("clamps the limit", func(t *testing.T) {
		store := &mockStore{}
		f := newFixture(t, GatewayOptions{Store: store, HistoryLimit: 20})
		room := f.room("general")

		stored := []Message{{ID: "1", RoomID: room.ID, Text: "old"}}
		store.On("LoadRecentMessages", mock.Anything, room.ID, 20).Return(stored, nil).Twice()
		store.On("LoadRecentMessages", mock.Anything, room.ID, 5).Return(stored, nil).Once()

		for _, limit := range []int{0, 500, 5} {
			msgs, err := f.gateway.History(context.Background(), room.ID, limit)
			require.NoError(t, err)
			assert.Equal(t, stored, msgs)
		}
		store.AssertExpectations(t)
	})

	t.Run("store failure", func(t *testing.T) {
		store := &mockStore{}
		f := newFixture(t, GatewayOptions{Store: store})
		room := f.room("general")
		store.On("LoadRecentMessages", mock.Anything, room.ID, DefaultHistoryLimit).
			Return([]Message(nil), errors.New("db down")).Once()

		_, err := f.gateway.History(context.Background(), room.ID, 0)
		assert.True(t, errs.Is(err, errs.ErrStorageFailed))
	})
}

func TestGatewayTypingEpisode(t *testing.T) {
	f := newFixture(t, GatewayOptions{TypingTimeout: 30 * time.Millisecond})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))
	aOut.reset()
	bOut.reset()

	require.NoError(t, f.gateway.Typing(context.Background(), b, ""))
	require.NoError(t, f.gateway.Typing(context.Background(), b, room.ID))

	assert.Len(t, aOut.ofKind(EventUserTyping), 1)
	assert.Empty(t, bOut.ofKind(EventUserTyping), "typists do not hear themselves")

	assert.Eventually(t, func() bool {
		return len(aOut.ofKind(EventUserStoppedTyping)) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, aOut.ofKind(EventUserStoppedTyping), 1)
	assert.Empty(t, bOut.ofKind(EventUserStoppedTyping))
}

func TestGatewayMessageEndsTyping(t *testing.T) {
	f := newFixture(t, GatewayOptions{TypingTimeout: time.Hour})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, _ := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))

	require.NoError(t, f.gateway.Typing(context.Background(), b, room.ID))
	aOut.reset()

	_, err := f.gateway.SendMessage(context.Background(), b, room.ID, "done", "")
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventUserStoppedTyping, EventNewMessage}, aOut.kinds())

	require.NoError(t, f.gateway.StopTyping(context.Background(), b, room.ID))
	assert.Len(t, aOut.ofKind(EventUserStoppedTyping), 1, "the episode already ended")
}

func TestGatewayDisconnectEndsTyping(t *testing.T) {
	f := newFixture(t, GatewayOptions{TypingTimeout: time.Hour})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	b, _ := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(context.Background(), a, room.ID))
	require.NoError(t, f.gateway.Join(context.Background(), b, room.ID))
	require.NoError(t, f.gateway.Typing(context.Background(), b, room.ID))
	aOut.reset()

	f.gateway.Disconnect(b)

	assert.Equal(t, EventUserStoppedTyping, aOut.kinds()[0])
	assert.Len(t, aOut.ofKind(EventUserStoppedTyping), 1)
}

func TestGatewayTypingOutsideRoom(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	a, aOut := f.open(t, "alice")

	err := f.gateway.Typing(context.Background(), a, "")

	assert.True(t, errs.Is(err, errs.ErrNotInRoom))
	assert.Empty(t, aOut.ofKind(EventError))
}

func TestGatewayHandle(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	room := f.room("general")
	a, aOut := f.open(t, "alice")
	ctx := context.Background()

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundJoinRoom, Data: []byte(`"` + room.ID + `"`)}))
	assert.Equal(t, room.ID, a.RoomID())

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundSendMessage, Data: []byte(`{"text":"hi"}`)}))
	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundChatMessage, Data: []byte(`"yo"`)}))
	assert.Len(t, aOut.ofKind(EventNewMessage), 2)

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundTyping}))
	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundStopTyping}))

	err := f.gateway.Handle(ctx, a, Frame{Event: "dance"})
	assert.True(t, errs.Is(err, errs.ErrUnsupportedEvent))
	assert.Equal(t, errs.ErrUnsupportedEvent, errorCode(t, aOut))

	err = f.gateway.Handle(ctx, a, Frame{Event: InboundSendMessage, Data: []byte(`[1,2]`)})
	assert.True(t, errs.Is(err, errs.ErrInvalidParams))

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundLeaveRoom, Data: []byte(`{"roomId":"` + room.ID + `"}`)}))
	assert.Equal(t, StateAuthenticated, a.State())
}

func TestGatewayLegacyJoinByName(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	a, _ := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	ctx := context.Background()

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundJoin, Data: []byte(`{"username":"Ally","room":"JavaScript"}`)}))
	require.Equal(t, 1, f.directory.Len(), "the first join creates the room")
	assert.Equal(t, "Ally", a.User().Name)

	require.NoError(t, f.gateway.Handle(ctx, b, Frame{Event: InboundJoin, Data: []byte(`{"username":"Bobby","room":"javascript"}`)}))
	assert.Equal(t, 1, f.directory.Len(), "names match case-insensitively")
	assert.Equal(t, a.RoomID(), b.RoomID())

	occupants, _ := bOut.last(EventRoomUsers)
	names := []string{}
	for _, u := range occupants.Users {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Ally", "Bobby"}, names)

	err := f.gateway.Handle(ctx, a, Frame{Event: InboundJoin, Data: []byte(`{"username":"Ally"}`)})
	assert.True(t, errs.Is(err, errs.ErrInvalidParams))
}

func TestGatewayLegacyRenameInCurrentRoomRefreshesOccupants(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	a, _ := f.open(t, "alice")
	b, bOut := f.open(t, "bob")
	ctx := context.Background()

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundJoin, Data: []byte(`{"username":"Ally","room":"lobby"}`)}))
	require.NoError(t, f.gateway.Handle(ctx, b, Frame{Event: InboundJoin, Data: []byte(`{"username":"Bobby","room":"lobby"}`)}))
	bOut.reset()

	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundJoin, Data: []byte(`{"username":"Allison","room":"lobby"}`)}))

	assert.Equal(t, []EventKind{EventRoomUsers}, bOut.kinds())
	occupants, _ := bOut.last(EventRoomUsers)
	names := []string{}
	for _, u := range occupants.Users {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Allison", "Bobby"}, names)

	bOut.reset()
	require.NoError(t, f.gateway.Handle(ctx, a, Frame{Event: InboundJoin, Data: []byte(`{"username":"Allison","room":"lobby"}`)}))
	assert.Empty(t, bOut.kinds(), "an unchanged name in the same room is a no-op")
}

func TestGatewayDisconnectRacesJoin(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	first := f.room("first")
	second := f.room("second")
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		s, _ := f.open(t, "alice")

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = f.gateway.Join(ctx, s, first.ID)
		}()
		go func() {
			defer wg.Done()
			_ = f.gateway.Join(ctx, s, second.ID)
		}()
		go func() {
			defer wg.Done()
			f.gateway.Disconnect(s)
		}()
		wg.Wait()

		require.Equal(t, StateDisconnected, s.State(), "iteration %d", i)
		require.False(t, f.directory.IsMember(first.ID, s.ID), "iteration %d", i)
		require.False(t, f.directory.IsMember(second.ID, s.ID), "iteration %d", i)
	}

	assert.Equal(t, 0, f.presence.Len())
	assert.Empty(t, f.directory.Members(first.ID))
	assert.Empty(t, f.directory.Members(second.ID))
}

func TestGatewayTypingRacesLeave(t *testing.T) {
	f := newFixture(t, GatewayOptions{TypingTimeout: time.Hour})
	room := f.room("general")
	ctx := context.Background()
	a, aOut := f.open(t, "alice")
	b, _ := f.open(t, "bob")
	require.NoError(t, f.gateway.Join(ctx, a, room.ID))

	for i := 0; i < 250; i++ {
		require.NoError(t, f.gateway.Join(ctx, b, room.ID))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.gateway.Typing(ctx, b, room.ID)
		}()
		go func() {
			defer wg.Done()
			_ = f.gateway.Leave(ctx, b, "")
		}()
		wg.Wait()

		require.False(t, f.gateway.typing.Active(room.ID, bob.ID), "iteration %d", i)
	}

	started := aOut.ofKind(EventUserTyping)
	stopped := aOut.ofKind(EventUserStoppedTyping)
	assert.Equal(t, len(started), len(stopped), "every episode seen by the room is closed")

	open := 0
	for _, kind := range aOut.kinds() {
		switch kind {
		case EventUserTyping:
			open++
		case EventUserStoppedTyping:
			open--
		}
		require.GreaterOrEqual(t, open, 0)
		require.LessOrEqual(t, open, 1)
	}
}
