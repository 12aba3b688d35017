package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/database"
	"github.com/npezzotti/campus-connect/internal/presence"
	"github.com/npezzotti/campus-connect/internal/stats"
)

const (
	metricActiveClients    = "NumActiveClients"
	metricActiveMatchRooms = "NumActiveMatchRooms"
	metricMessagesSent     = "NumMessagesSent"
	metricMessagesDeleted  = "NumMessagesDeleted"
)

// MessageStore is the part of the message store the gateway writes through.
type MessageStore interface {
	Append(ctx context.Context, matchId, senderId, content string) (database.Message, error)
	MarkSeen(ctx context.Context, matchId, viewerId string) (int64, error)
}

type MatchAuthorizer interface {
	Authorize(ctx context.Context, matchId, userId string) (database.Match, error)
}

// ChatServer is the realtime gateway. It owns the room table and is the
// only writer of the presence registry.
type ChatServer struct {
	log         *log.Logger
	store       MessageStore
	matches     MatchAuthorizer
	presence    *presence.Registry
	stats       stats.StatsProvider
	rooms       *roomTable
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewChatServer(logger *log.Logger, store MessageStore, matches MatchAuthorizer, registry *presence.Registry, su stats.StatsProvider) (*ChatServer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &ChatServer{
		log:      logger,
		store:    store,
		matches:  matches,
		presence: registry,
		stats:    su,
		rooms:    newRoomTable(),
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricActiveMatchRooms)
	su.RegisterMetric(metricMessagesSent)
	su.RegisterMetric(metricMessagesDeleted)

	return cs, nil
}

// Attach registers an authenticated client and starts its read and write
// pumps.
func (cs *ChatServer) Attach(c *Client) {
	cs.RegisterClient(c)

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		c.write()
	}()
	go func() {
		defer cs.wg.Done()
		c.read()
	}()
}

// RegisterClient moves c to the authenticated state: the user is marked
// online and joined to their own user room.
func (cs *ChatServer) RegisterClient(c *Client) {
	if !c.state.CompareAndSwap(int32(stateConnecting), int32(stateAuthenticated)) {
		return
	}

	cs.log.Printf("adding connection %q for user %q", c.id, c.UserId())

	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsLock.Unlock()
	cs.stats.Incr(metricActiveClients)

	cs.presence.Register(c.UserId(), c.id)
	cs.rooms.join(userRoom(c.UserId()), c)

	c.queueMessage(NewEvent(EventConnected, ConnectedEvent{UserId: c.UserId()}))
}

// DeregisterClient closes c. Every cleanup step runs regardless of the
// others; calling it again is a no-op.
func (cs *ChatServer) DeregisterClient(c *Client) {
	if connState(c.state.Swap(int32(stateClosed))) == stateClosed {
		return
	}

	cs.log.Printf("removing connection %q for user %q", c.id, c.UserId())

	cs.clientsLock.Lock()
	_, registered := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	cs.presence.UnregisterConn(c.UserId(), c.id)

	var out []outbound
	emptiedRooms := 0
	for _, room := range c.roomNames() {
		_, emptied := cs.rooms.leave(room, c)

		matchId, ok := matchIdFromRoom(room)
		if !ok {
			continue
		}

		if emptied {
			emptiedRooms++
		}

		if !cs.rooms.hasUser(room, c.UserId()) {
			out = append(out, toRoom(room, nil, NewEvent(EventUserOffline, MatchUserEvent{
				UserId:  c.UserId(),
				MatchId: matchId,
			})))
		}
	}

	cs.deliver(out)
	c.stopClient()

	// metrics go last so presence and rooms are cleaned up first
	if registered {
		cs.stats.Decr(metricActiveClients)
	}
	for range emptiedRooms {
		cs.stats.Decr(metricActiveMatchRooms)
	}
}

// BroadcastToMatch sends msg to every connection joined to the match.
func (cs *ChatServer) BroadcastToMatch(matchId string, msg *ServerMessage) {
	cs.deliver([]outbound{toRoom(matchRoom(matchId), nil, msg)})
}

// SendToUser sends msg to every connection of userId.
func (cs *ChatServer) SendToUser(userId string, msg *ServerMessage) {
	cs.deliver([]outbound{toRoom(userRoom(userId), nil, msg)})
}

// NotifyNewMessage delivers a message persisted outside the gateway.
func (cs *ChatServer) NotifyNewMessage(match database.Match, msg database.Message, tempId string) {
	cs.deliver(cs.newMessage(match, msg, tempId))
}

func (cs *ChatServer) NotifyMessagesSeen(matchId, userId string) {
	cs.BroadcastToMatch(matchId, NewEvent(EventMessagesSeen, MatchUserEvent{
		UserId:  userId,
		MatchId: matchId,
	}))
}

func (cs *ChatServer) NotifyMessageDeleted(msg database.Message) {
	cs.stats.Incr(metricMessagesDeleted)
	cs.BroadcastToMatch(msg.MatchId, NewEvent(EventMessageDeleted, MessageDeletedEvent{
		MessageId:   msg.Id,
		MatchId:     msg.MatchId,
		ForEveryone: true,
	}))
}

// NotifyChatCleared tells the partner that userId cleared their copy of
// the chat, and userId's other devices that the chat is now empty.
func (cs *ChatServer) NotifyChatCleared(matchId, userId, partnerId string) {
	data := MatchUserEvent{UserId: userId, MatchId: matchId}
	cs.deliver([]outbound{
		toRoom(userRoom(partnerId), nil, NewEvent(EventUserClearedChat, data)),
		toRoom(userRoom(userId), nil, NewEvent(EventChatCleared, data)),
	})
}

// UnloadMatch notifies both participants that the match is gone and
// evicts every connection from its room.
func (cs *ChatServer) UnloadMatch(match database.Match, userId string) {
	ev := NewEvent(EventMatchRemoved, MatchUserEvent{UserId: userId, MatchId: match.Id})
	cs.deliver([]outbound{
		toRoom(userRoom(match.UserA), nil, ev),
		toRoom(userRoom(match.UserB), nil, ev),
	})

	if members := cs.rooms.drop(matchRoom(match.Id)); len(members) > 0 {
		cs.log.Printf("unloaded match %q, evicted %d connections", match.Id, len(members))
		cs.stats.Decr(metricActiveMatchRooms)
	}
}

// newMessage broadcasts msg to the match room and, when the other
// participant has no connection there, to their user room as well.
func (cs *ChatServer) newMessage(match database.Match, msg database.Message, tempId string) []outbound {
	cs.stats.Incr(metricMessagesSent)

	ev := NewEvent(EventNewMessage, NewMessageEvent{
		Message: chat.ToMessage(msg),
		TempId:  tempId,
	})

	room := matchRoom(match.Id)
	out := []outbound{toRoom(room, nil, ev)}

	partner := chat.Partner(match, msg.SenderId)
	if !cs.rooms.hasUser(room, partner) {
		out = append(out, toRoom(userRoom(partner), nil, ev))
	}

	return out
}

func (cs *ChatServer) IsOnline(userId string) bool {
	return cs.presence.IsOnline(userId)
}

// Shutdown closes every connection and waits for their cleanup to finish.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.cancel()

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
