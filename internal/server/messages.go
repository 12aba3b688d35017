package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/types"
)

const (
	EventConnected       = "connected"
	EventNewMessage      = "new-message"
	EventUserTyping      = "user-typing"
	EventMessagesSeen    = "messages-seen"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventMessageDeleted  = "message-deleted"
	EventChatCleared     = "chat-cleared"
	EventUserClearedChat = "user-cleared-chat"
	EventMatchRemoved    = "match-removed"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a command sent by a connected client. Exactly one of
// the command fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	JoinMatch   *MatchRef    `json:"join-match,omitempty"`
	LeaveMatch  *MatchRef    `json:"leave-match,omitempty"`
	SendMessage *SendMessage `json:"send-message,omitempty"`
	Typing      *Typing      `json:"typing,omitempty"`
	MarkSeen    *MatchRef    `json:"mark-seen,omitempty"`
}

type MatchRef struct {
	MatchId string `json:"matchId"`
}

type SendMessage struct {
	MatchId string `json:"matchId"`
	Content string `json:"content"`
	// TempId is the client's id for its optimistic copy, echoed back so
	// the client can reconcile it.
	TempId string `json:"tempId,omitempty"`
}

type Typing struct {
	MatchId  string `json:"matchId"`
	IsTyping bool   `json:"isTyping"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    string    `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type ConnectedEvent struct {
	UserId string `json:"userId"`
}

type NewMessageEvent struct {
	types.Message
	TempId string `json:"tempId,omitempty"`
}

type TypingEvent struct {
	UserId   string `json:"userId"`
	MatchId  string `json:"matchId"`
	IsTyping bool   `json:"isTyping"`
}

// MatchUserEvent is the payload of every event that only names a user and
// a match.
type MatchUserEvent struct {
	UserId  string `json:"userId"`
	MatchId string `json:"matchId"`
}

type MessageDeletedEvent struct {
	MessageId   string `json:"messageId"`
	MatchId     string `json:"matchId"`
	ForEveryone bool   `json:"forEveryone"`
}

func NewEvent(name string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: name,
		Data:  data,
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func errResponse(id int, code int, msg string) *ServerMessage {
	res := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}

	if id > 0 {
		res.Id = id
	}
	return res
}

// ErrFromChat turns a chat error into a response. Internal causes are not
// exposed.
func ErrFromChat(id int, err error) *ServerMessage {
	return errResponse(id, chat.HTTPStatus(err), chat.Message(err))
}

func ErrInvalidMessage(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid message format")
}

func ErrUnknownCommand(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "unknown command")
}

func ErrMatchNotJoined(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "match not joined")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
