package server

import (
	"context"

	"github.com/npezzotti/campus-connect/internal/chat"
)

// outbound is one frame to deliver: either to a single client or to
// every member of a room except skip.
type outbound struct {
	to   *Client
	room string
	skip *Client
	msg  *ServerMessage
}

func reply(c *Client, msg *ServerMessage) outbound {
	return outbound{to: c, msg: msg}
}

func toRoom(room string, skip *Client, msg *ServerMessage) outbound {
	return outbound{room: room, skip: skip, msg: msg}
}

// dispatch applies one client command and returns the frames it produces.
// Room membership changes happen here; nothing is sent until deliver.
func (cs *ChatServer) dispatch(ctx context.Context, c *Client, msg *ClientMessage) []outbound {
	if c.getState() != stateAuthenticated {
		return nil
	}

	switch {
	case msg.JoinMatch != nil:
		return cs.handleJoinMatch(ctx, c, msg)
	case msg.LeaveMatch != nil:
		return cs.handleLeaveMatch(c, msg)
	case msg.SendMessage != nil:
		return cs.handleSendMessage(ctx, c, msg)
	case msg.Typing != nil:
		return cs.handleTyping(c, msg)
	case msg.MarkSeen != nil:
		return cs.handleMarkSeen(ctx, c, msg)
	default:
		return []outbound{reply(c, ErrUnknownCommand(msg.Id))}
	}
}

func (cs *ChatServer) deliver(out []outbound) {
	for _, o := range out {
		if o.to != nil {
			o.to.queueMessage(o.msg)
			continue
		}

		for _, member := range cs.rooms.members(o.room) {
			if member == o.skip {
				continue
			}
			member.queueMessage(o.msg)
		}
	}
}

func (cs *ChatServer) handleJoinMatch(ctx context.Context, c *Client, msg *ClientMessage) []outbound {
	match, err := cs.matches.Authorize(ctx, msg.JoinMatch.MatchId, c.UserId())
	if err != nil {
		cs.log.Printf("join-match: match %q user %q: %v", msg.JoinMatch.MatchId, c.UserId(), err)
		return []outbound{reply(c, ErrFromChat(msg.Id, err))}
	}

	room := matchRoom(match.Id)
	if cs.rooms.join(room, c) {
		cs.stats.Incr(metricActiveMatchRooms)
	}

	partner := chat.Partner(match, c.UserId())

	return []outbound{
		reply(c, NoErrOK(msg.Id, map[string]any{
			"matchId":       match.Id,
			"partnerOnline": cs.presence.IsOnline(partner),
		})),
		toRoom(room, c, NewEvent(EventUserOnline, MatchUserEvent{
			UserId:  c.UserId(),
			MatchId: match.Id,
		})),
	}
}

func (cs *ChatServer) handleLeaveMatch(c *Client, msg *ClientMessage) []outbound {
	matchId := msg.LeaveMatch.MatchId
	room := matchRoom(matchId)

	left, emptied := cs.rooms.leave(room, c)
	if !left {
		return []outbound{reply(c, ErrMatchNotJoined(msg.Id))}
	}

	if emptied {
		cs.stats.Decr(metricActiveMatchRooms)
	}

	out := []outbound{reply(c, NoErrOK(msg.Id, map[string]any{"matchId": matchId}))}
	if !cs.rooms.hasUser(room, c.UserId()) {
		out = append(out, toRoom(room, nil, NewEvent(EventUserOffline, MatchUserEvent{
			UserId:  c.UserId(),
			MatchId: matchId,
		})))
	}

	return out
}

func (cs *ChatServer) handleSendMessage(ctx context.Context, c *Client, msg *ClientMessage) []outbound {
	send := msg.SendMessage

	match, err := cs.matches.Authorize(ctx, send.MatchId, c.UserId())
	if err != nil {
		cs.log.Printf("send-message: match %q user %q: %v", send.MatchId, c.UserId(), err)
		return []outbound{reply(c, ErrFromChat(msg.Id, err))}
	}

	m, err := cs.store.Append(ctx, match.Id, c.UserId(), send.Content)
	if err != nil {
		cs.log.Printf("send-message: match %q user %q: %v", send.MatchId, c.UserId(), err)
		return []outbound{reply(c, ErrFromChat(msg.Id, err))}
	}

	data := map[string]any{"messageId": m.Id}
	if send.TempId != "" {
		data["tempId"] = send.TempId
	}

	out := []outbound{reply(c, NoErrAccepted(msg.Id, data))}
	return append(out, cs.newMessage(match, m, send.TempId)...)
}

// handleTyping relays the indicator to the rest of the match room. Only
// connections that joined the match may signal typing; nothing is
// persisted and no response is sent.
func (cs *ChatServer) handleTyping(c *Client, msg *ClientMessage) []outbound {
	room := matchRoom(msg.Typing.MatchId)
	if !cs.rooms.contains(room, c) {
		return nil
	}

	return []outbound{
		toRoom(room, c, NewEvent(EventUserTyping, TypingEvent{
			UserId:   c.UserId(),
			MatchId:  msg.Typing.MatchId,
			IsTyping: msg.Typing.IsTyping,
		})),
	}
}

func (cs *ChatServer) handleMarkSeen(ctx context.Context, c *Client, msg *ClientMessage) []outbound {
	matchId := msg.MarkSeen.MatchId

	n, err := cs.store.MarkSeen(ctx, matchId, c.UserId())
	if err != nil {
		cs.log.Printf("mark-seen: match %q user %q: %v", matchId, c.UserId(), err)
		return []outbound{reply(c, ErrFromChat(msg.Id, err))}
	}

	return []outbound{
		reply(c, NoErrOK(msg.Id, map[string]any{"matchId": matchId, "updated": n})),
		toRoom(matchRoom(matchId), nil, NewEvent(EventMessagesSeen, MatchUserEvent{
			UserId:  c.UserId(),
			MatchId: matchId,
		})),
	}
}
