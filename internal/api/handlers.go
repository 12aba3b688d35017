package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/server"
	"github.com/npezzotti/campus-connect/internal/types"
)

type SendMessageRequest struct {
	MatchId string `json:"matchId"`
	Content string `json:"content"`
	TempId  string `json:"tempId,omitempty"`
}

type SeenResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type DeleteMessageResponse struct {
	Message     string `json:"message"`
	MessageId   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone"`
}

type ClearChatResponse struct {
	Message      string `json:"message"`
	ClearedFor   string `json:"clearedFor"`
	ClearedCount int64  `json:"clearedCount"`
}

type OnlineUsersResponse struct {
	Users []string `json:"users"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := errorFromChat(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, server.MaxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errResp = NewRequestTooLargeError()
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.MatchId == "" || strings.TrimSpace(req.Content) == "" {
		errResp := NewBadRequestError().WithMessage("matchId and content are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	match, err := s.matches.Authorize(r.Context(), req.MatchId, id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	msg, err := s.store.Append(r.Context(), match.Id, id.UserId, req.Content)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.cs.NotifyNewMessage(match, msg, req.TempId)

	s.writeJson(w, http.StatusCreated, chat.ToMessage(msg))
}

func (s *ChatApp) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, err := s.store.ListVisible(r.Context(), r.PathValue("matchId"), id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, chat.ToMessages(msgs))
}

func (s *ChatApp) markSeen(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	matchId := r.PathValue("matchId")
	n, err := s.store.MarkSeen(r.Context(), matchId, id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.cs.NotifyMessagesSeen(matchId, id.UserId)

	s.writeJson(w, http.StatusOK, SeenResponse{
		Message: "messages marked as seen",
		Updated: n,
	})
}

// deleteMessage hides the message for the caller, or removes it for both
// participants when forEveryone is true. Only the removal is broadcast.
func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var forEveryone bool
	if raw := r.URL.Query().Get("forEveryone"); raw != "" {
		var err error
		forEveryone, err = strconv.ParseBool(raw)
		if err != nil {
			errResp := NewBadRequestError().WithMessage("forEveryone must be true or false")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	msg, err := s.store.Message(r.Context(), r.PathValue("messageId"))
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	if _, err := s.matches.Authorize(r.Context(), msg.MatchId, id.UserId); err != nil {
		s.writeChatError(w, r, err)
		return
	}

	if forEveryone {
		deleted, err := s.store.HardDelete(r.Context(), msg.Id, id.UserId)
		if err != nil {
			s.writeChatError(w, r, err)
			return
		}

		s.cs.NotifyMessageDeleted(deleted)

		s.writeJson(w, http.StatusOK, DeleteMessageResponse{
			Message:     "message deleted for everyone",
			MessageId:   deleted.Id,
			ForEveryone: true,
		})
		return
	}

	if err := s.store.SoftDelete(r.Context(), msg.Id, id.UserId); err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, DeleteMessageResponse{
		Message:   "message deleted for you",
		MessageId: msg.Id,
	})
}

func (s *ChatApp) clearChat(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	match, err := s.matches.Authorize(r.Context(), r.PathValue("matchId"), id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	n, err := s.store.ClearForUser(r.Context(), match.Id, id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.cs.NotifyChatCleared(match.Id, id.UserId, chat.Partner(match, id.UserId))

	s.writeJson(w, http.StatusOK, ClearChatResponse{
		Message:      "chat cleared",
		ClearedFor:   id.UserId,
		ClearedCount: n,
	})
}

func (s *ChatApp) listMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	matches, err := s.matches.ListForUser(r.Context(), id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	res := make([]types.Match, 0, len(matches))
	for _, m := range matches {
		tm := chat.ToMatch(m, id.UserId)
		tm.PartnerOnline = s.presence.IsOnline(tm.PartnerId)

		if !tm.PartnerOnline {
			lastActive, ok, err := s.presence.LastActive(r.Context(), tm.PartnerId)
			if err != nil {
				s.log.Printf("last active for user %q: %v", tm.PartnerId, err)
			} else if ok {
				tm.PartnerLastActive = &lastActive
			}
		}

		res = append(res, tm)
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *ChatApp) unmatch(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	match, err := s.matches.Remove(r.Context(), r.PathValue("matchId"), id.UserId)
	if err != nil {
		s.writeChatError(w, r, err)
		return
	}

	s.cs.UnloadMatch(match, id.UserId)

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) listOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, OnlineUsersResponse{Users: s.presence.ListOnline()})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.cs.Attach(server.NewClient(id, conn, s.cs, s.log))
}
