package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/database"
	"github.com/npezzotti/campus-connect/internal/presence"
	"github.com/npezzotti/campus-connect/internal/stats"
	"github.com/npezzotti/campus-connect/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
)

type testEnv struct {
	db      *database.MemChatRepository
	store   *chat.Store
	matches *chat.Matches
	su      *stats.MockStatsUpdater
}

// newTestChatServer creates a ChatServer backed by the in-memory repository
// and a fresh presence registry.
func newTestChatServer(t *testing.T) (*ChatServer, *testEnv) {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	db := database.NewMemChatRepository()
	matches := chat.NewMatches(db)
	store := chat.NewStore(db, matches)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, store, matches, presence.NewRegistry(logger, nil), su)
	require.NoError(t, err, "failed to create test ChatServer")

	return cs, &testEnv{db: db, store: store, matches: matches, su: su}
}

// newTestClient registers a client without a websocket and consumes its
// connected event.
func newTestClient(t *testing.T, cs *ChatServer, userId string) *Client {
	t.Helper()

	c := NewClient(auth.Identity{UserId: userId, Role: auth.RoleUser}, nil, cs, cs.log)
	cs.RegisterClient(c)

	msg := recv(t, c)
	require.Equal(t, EventConnected, msg.Event, "expected connected event first")

	return c
}

func recv(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("expected a message for client of %q", c.UserId())
		return nil
	}
}

func recvEvent(t *testing.T, c *Client, event string) *ServerMessage {
	t.Helper()

	msg := recv(t, c)
	require.Equal(t, event, msg.Event, "unexpected message %+v", msg)
	return msg
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Errorf("expected no message for client of %q, got %+v", c.UserId(), msg)
	default:
	}
}

// run dispatches msg and delivers the result, as the read pump does.
func run(cs *ChatServer, c *Client, msg *ClientMessage) {
	cs.deliver(cs.dispatch(context.Background(), c, msg))
}

func join(t *testing.T, cs *ChatServer, c *Client, matchId string) {
	t.Helper()

	run(cs, c, &ClientMessage{BaseMessage: BaseMessage{Id: 1}, JoinMatch: &MatchRef{MatchId: matchId}})
	msg := recv(t, c)
	require.NotNil(t, msg.Response)
	require.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected join to succeed: %s", msg.Response.Error)
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metricActiveClients).Once()
	su.On("RegisterMetric", metricActiveMatchRooms).Once()
	su.On("RegisterMetric", metricMessagesSent).Once()
	su.On("RegisterMetric", metricMessagesDeleted).Once()

	db := database.NewMemChatRepository()
	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, chat.NewStore(db, chat.NewMatches(db)), chat.NewMatches(db), presence.NewRegistry(logger, nil), su)
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs.rooms, "expected room table to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
}

func TestChatServer_RegisterClient(t *testing.T) {
	cs, env := newTestChatServer(t)

	c := NewClient(auth.Identity{UserId: alice}, nil, cs, cs.log)
	assert.Equal(t, stateConnecting, c.getState())
	assert.False(t, cs.IsOnline(alice))

	cs.RegisterClient(c)

	assert.Equal(t, stateAuthenticated, c.getState())
	assert.True(t, cs.IsOnline(alice), "expected user to be online")
	assert.True(t, cs.rooms.contains(userRoom(alice), c), "expected client in its user room")

	msg := recvEvent(t, c, EventConnected)
	assert.Equal(t, ConnectedEvent{UserId: alice}, msg.Data)

	env.su.AssertCalled(t, "Incr", metricActiveClients)
}

func TestDispatch_IgnoresUnauthenticated(t *testing.T) {
	cs, _ := newTestChatServer(t)

	c := NewClient(auth.Identity{UserId: alice}, nil, cs, cs.log)
	out := cs.dispatch(context.Background(), c, &ClientMessage{Typing: &Typing{MatchId: "m1", IsTyping: true}})
	assert.Nil(t, out, "expected commands before authentication to be dropped")

	c = newTestClient(t, cs, alice)
	cs.DeregisterClient(c)
	out = cs.dispatch(context.Background(), c, &ClientMessage{JoinMatch: &MatchRef{MatchId: uuid.NewString()}})
	assert.Nil(t, out, "expected commands after close to be dropped")
}

func TestDispatch_JoinMatch(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	c := newTestClient(t, cs, carol)

	t.Run("participant joins", func(t *testing.T) {
		run(cs, a, &ClientMessage{BaseMessage: BaseMessage{Id: 7}, JoinMatch: &MatchRef{MatchId: match.Id}})

		msg := recv(t, a)
		require.NotNil(t, msg.Response)
		assert.Equal(t, 7, msg.Id, "expected response to echo the command id")
		assert.Equal(t, http.StatusOK, msg.Response.ResponseCode)
		assert.Equal(t, true, msg.Response.Data["partnerOnline"], "expected bob to be reported online")
		assert.True(t, cs.rooms.contains(matchRoom(match.Id), a))
		assertNoMessage(t, a)
	})

	t.Run("partner joins and is announced", func(t *testing.T) {
		join(t, cs, b, match.Id)

		msg := recvEvent(t, a, EventUserOnline)
		assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)
		assertNoMessage(t, b)
	})

	tcases := []struct {
		name    string
		client  *Client
		matchId string
		code    int
	}{
		{name: "non participant", client: c, matchId: match.Id, code: http.StatusForbidden},
		{name: "unknown match", client: a, matchId: uuid.NewString(), code: http.StatusNotFound},
		{name: "malformed match id", client: a, matchId: "m123", code: http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			run(cs, tc.client, &ClientMessage{JoinMatch: &MatchRef{MatchId: tc.matchId}})

			msg := recv(t, tc.client)
			require.NotNil(t, msg.Response)
			assert.Equal(t, tc.code, msg.Response.ResponseCode)
			assert.NotEmpty(t, msg.Response.Error)
			assert.Equal(t, stateAuthenticated, tc.client.getState(), "expected connection to stay open")
		})
	}

	assert.False(t, cs.rooms.contains(matchRoom(match.Id), c), "expected rejected client not to join")
}

func TestDispatch_SendMessage(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	run(cs, a, &ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		SendMessage: &SendMessage{MatchId: match.Id, Content: "hello", TempId: "temp-1"},
	})

	ack := recv(t, a)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusAccepted, ack.Response.ResponseCode)
	assert.Equal(t, "temp-1", ack.Response.Data["tempId"])
	messageId, _ := ack.Response.Data["messageId"].(string)
	require.NotEmpty(t, messageId)

	echo := recvEvent(t, a, EventNewMessage)
	assert.Equal(t, messageId, echo.Data.(NewMessageEvent).Id, "expected sender to receive its own message")

	msg := recvEvent(t, b, EventNewMessage)
	ev := msg.Data.(NewMessageEvent)
	assert.Equal(t, "hello", ev.Content)
	assert.Equal(t, alice, ev.SenderId)
	assert.Equal(t, "temp-1", ev.TempId, "expected temp id to be echoed")
	assert.False(t, ev.Seen)
	assert.Empty(t, ev.DeletedBy)

	assertNoMessage(t, b)

	stored, err := env.store.Message(context.Background(), messageId)
	require.NoError(t, err)
	assert.Equal(t, alice, stored.SenderId)
	assert.False(t, stored.Seen)
	assert.Empty(t, stored.DeletedBy)

	env.su.AssertCalled(t, "Incr", metricMessagesSent)
}

func TestDispatch_SendMessageToUserRoom(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)

	run(cs, a, &ClientMessage{SendMessage: &SendMessage{MatchId: match.Id, Content: "are you there?"}})
	recv(t, a)
	recvEvent(t, a, EventNewMessage)

	msg := recvEvent(t, b, EventNewMessage)
	assert.Equal(t, "are you there?", msg.Data.(NewMessageEvent).Content)
	assertNoMessage(t, b)
}

func TestDispatch_SendMessageErrors(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	c := newTestClient(t, cs, carol)
	join(t, cs, b, match.Id)

	tcases := []struct {
		name    string
		client  *Client
		matchId string
		content string
		code    int
	}{
		{name: "empty content", client: a, matchId: match.Id, content: "  ", code: http.StatusBadRequest},
		{name: "non participant", client: c, matchId: match.Id, content: "hi", code: http.StatusForbidden},
		{name: "unknown match", client: a, matchId: uuid.NewString(), content: "hi", code: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			run(cs, tc.client, &ClientMessage{SendMessage: &SendMessage{MatchId: tc.matchId, Content: tc.content}})

			msg := recv(t, tc.client)
			require.NotNil(t, msg.Response)
			assert.Equal(t, tc.code, msg.Response.ResponseCode)
			assertNoMessage(t, b)
		})
	}

	msgs, err := env.store.ListVisible(context.Background(), match.Id, bob)
	require.NoError(t, err)
	assert.Empty(t, msgs, "expected nothing to be stored")
}

func TestDispatch_Typing(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	c := newTestClient(t, cs, carol)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	run(cs, a, &ClientMessage{Typing: &Typing{MatchId: match.Id, IsTyping: true}})

	msg := recvEvent(t, b, EventUserTyping)
	assert.Equal(t, TypingEvent{UserId: alice, MatchId: match.Id, IsTyping: true}, msg.Data)
	assertNoMessage(t, a)

	run(cs, c, &ClientMessage{Typing: &Typing{MatchId: match.Id, IsTyping: true}})
	assertNoMessage(t, a)
	assertNoMessage(t, b)
	assertNoMessage(t, c)
}

func TestDispatch_MarkSeen(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)
	ctx := context.Background()

	sent, err := env.store.Append(ctx, match.Id, alice, "hello")
	require.NoError(t, err)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	run(cs, b, &ClientMessage{MarkSeen: &MatchRef{MatchId: match.Id}})

	res := recv(t, b)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusOK, res.Response.ResponseCode)
	assert.Equal(t, int64(1), res.Response.Data["updated"])

	msg := recvEvent(t, a, EventMessagesSeen)
	assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)
	recvEvent(t, b, EventMessagesSeen)

	stored, err := env.store.Message(ctx, sent.Id)
	require.NoError(t, err)
	assert.True(t, stored.Seen, "expected alice to see the message as seen on next fetch")

	c := newTestClient(t, cs, carol)
	run(cs, c, &ClientMessage{MarkSeen: &MatchRef{MatchId: match.Id}})
	res = recv(t, c)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusForbidden, res.Response.ResponseCode)
}

func TestDispatch_LeaveMatch(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	run(cs, b, &ClientMessage{LeaveMatch: &MatchRef{MatchId: match.Id}})

	res := recv(t, b)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusOK, res.Response.ResponseCode)

	msg := recvEvent(t, a, EventUserOffline)
	assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)
	assert.False(t, cs.rooms.contains(matchRoom(match.Id), b))

	run(cs, b, &ClientMessage{LeaveMatch: &MatchRef{MatchId: match.Id}})
	res = recv(t, b)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusNotFound, res.Response.ResponseCode)
}

func TestChatServer_DeregisterClient(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	cs.DeregisterClient(b)

	msg := recvEvent(t, a, EventUserOffline)
	assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)

	assert.Equal(t, stateClosed, b.getState())
	assert.False(t, cs.IsOnline(bob), "expected presence to be removed")
	assert.Empty(t, b.roomNames(), "expected every room to be left")
	assert.False(t, cs.rooms.contains(userRoom(bob), b))

	select {
	case <-b.stop:
	default:
		t.Error("expected client to be stopped")
	}

	// a second call must not notify again
	cs.DeregisterClient(b)
	assertNoMessage(t, a)

	cs.DeregisterClient(a)
	assert.Equal(t, 0, cs.rooms.size(), "expected all rooms to be removed once empty")
	env.su.AssertCalled(t, "Decr", metricActiveMatchRooms)
}

func TestChatServer_DeregisterStaleConnection(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)

	a := newTestClient(t, cs, alice)
	oldB := newTestClient(t, cs, bob)
	newB := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, oldB, match.Id)
	join(t, cs, newB, match.Id)
	recvEvent(t, a, EventUserOnline)
	recvEvent(t, a, EventUserOnline)
	recvEvent(t, oldB, EventUserOnline)

	cs.DeregisterClient(oldB)

	assert.True(t, cs.IsOnline(bob), "expected the newer connection to keep bob online")
	assertNoMessage(t, a)
}

func TestChatServer_Notifications(t *testing.T) {
	cs, env := newTestChatServer(t)
	match := testutil.CreateMatch(t, env.db, alice, bob)
	ctx := context.Background()

	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	t.Run("message deleted", func(t *testing.T) {
		m, err := env.store.Append(ctx, match.Id, alice, "oops")
		require.NoError(t, err)

		cs.NotifyMessageDeleted(m)

		for _, c := range []*Client{a, b} {
			msg := recvEvent(t, c, EventMessageDeleted)
			assert.Equal(t, MessageDeletedEvent{MessageId: m.Id, MatchId: match.Id, ForEveryone: true}, msg.Data)
		}
	})

	t.Run("chat cleared", func(t *testing.T) {
		cs.NotifyChatCleared(match.Id, alice, bob)

		msg := recvEvent(t, b, EventUserClearedChat)
		assert.Equal(t, MatchUserEvent{UserId: alice, MatchId: match.Id}, msg.Data)

		msg = recvEvent(t, a, EventChatCleared)
		assert.Equal(t, MatchUserEvent{UserId: alice, MatchId: match.Id}, msg.Data)
	})

	t.Run("match removed", func(t *testing.T) {
		cs.UnloadMatch(match, bob)

		for _, c := range []*Client{a, b} {
			msg := recvEvent(t, c, EventMatchRemoved)
			assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)
			assert.False(t, cs.rooms.contains(matchRoom(match.Id), c), "expected connection to be evicted")
		}

		run(cs, a, &ClientMessage{Typing: &Typing{MatchId: match.Id}})
		assertNoMessage(t, b)
	})
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs, _ := newTestChatServer(t)
		c := newTestClient(t, cs, alice)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")

		select {
		case <-c.stop:
		default:
			t.Error("expected clients to be stopped")
		}
		assert.Error(t, cs.ctx.Err(), "expected in flight commands to be cancelled")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs, _ := newTestChatServer(t)

		// simulate a connection that never finishes its cleanup
		cs.wg.Add(1)
		defer cs.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServer_DeregisterAfterStatsStopped(t *testing.T) {
	su := stats.NewStatsUpdater(http.NewServeMux())
	su.Run()

	db := database.NewMemChatRepository()
	matches := chat.NewMatches(db)
	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, chat.NewStore(db, matches), matches, presence.NewRegistry(logger, nil), su)
	require.NoError(t, err)

	match := testutil.CreateMatch(t, db, alice, bob)
	a := newTestClient(t, cs, alice)
	b := newTestClient(t, cs, bob)
	join(t, cs, a, match.Id)
	join(t, cs, b, match.Id)
	recvEvent(t, a, EventUserOnline)

	// shutdown gave up waiting and stats stopped while b is still closing
	su.Stop()

	require.NotPanics(t, func() { cs.DeregisterClient(b) })

	assert.False(t, cs.IsOnline(bob), "expected presence to be removed")
	assert.Empty(t, b.roomNames())
	msg := recvEvent(t, a, EventUserOffline)
	assert.Equal(t, MatchUserEvent{UserId: bob, MatchId: match.Id}, msg.Data)
}

func TestChatServer_DeregisterCleansUpBeforeMetrics(t *testing.T) {
	db := database.NewMemChatRepository()
	matches := chat.NewMatches(db)
	logger := testutil.TestLogger(t)
	registry := presence.NewRegistry(logger, nil)

	var onlineAtDecr, inRoomAtDecr bool
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", metricActiveClients).Run(func(mock.Arguments) {
		onlineAtDecr = registry.IsOnline(bob)
	}).Once()

	cs, err := NewChatServer(logger, chat.NewStore(db, matches), matches, registry, su)
	require.NoError(t, err)

	match := testutil.CreateMatch(t, db, alice, bob)
	b := newTestClient(t, cs, bob)
	join(t, cs, b, match.Id)

	su.On("Decr", metricActiveMatchRooms).Run(func(mock.Arguments) {
		inRoomAtDecr = cs.rooms.contains(matchRoom(match.Id), b)
	}).Once()

	cs.DeregisterClient(b)

	su.AssertExpectations(t)
	assert.False(t, onlineAtDecr, "expected presence to be removed before metrics are updated")
	assert.False(t, inRoomAtDecr, "expected rooms to be left before metrics are updated")
}
