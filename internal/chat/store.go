package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/campus-connect/internal/database"
	"github.com/npezzotti/campus-connect/internal/types"
)

const (
	MaxContentLength = 2000

	// temporaryIdPrefix marks ids clients assign to optimistic local
	// copies before the server has acknowledged them.
	temporaryIdPrefix = "temp-"
)

// Store is the only writer of chat messages.
type Store struct {
	db      database.ChatRepository
	matches *Matches
	now     func() time.Time
}

func NewStore(db database.ChatRepository, matches *Matches) *Store {
	return &Store{
		db:      db,
		matches: matches,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func validateMessageId(messageId string) error {
	if strings.HasPrefix(messageId, temporaryIdPrefix) {
		return ErrTemporaryMessageId
	}

	if !validId(messageId) {
		return ErrInvalidMessageId
	}

	return nil
}

func (s *Store) Append(ctx context.Context, matchId, senderId, content string) (database.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return database.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return database.Message{}, ErrContentTooLong
	}

	if _, err := s.matches.Authorize(ctx, matchId, senderId); err != nil {
		return database.Message{}, err
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		MatchId:   matchId,
		SenderId:  senderId,
		Content:   content,
		CreatedAt: s.now(),
	})
	if err != nil {
		// the match may have been removed after the membership check
		if _, getErr := s.matches.get(ctx, matchId); errors.Is(getErr, ErrMatchNotFound) {
			return database.Message{}, ErrMatchNotFound
		}
		return database.Message{}, internalError("create message", err)
	}

	return msg, nil
}

// ListVisible returns the messages of the match that viewerId has not
// deleted for themselves, oldest first.
func (s *Store) ListVisible(ctx context.Context, matchId, viewerId string) ([]database.Message, error) {
	if _, err := s.matches.Authorize(ctx, matchId, viewerId); err != nil {
		return nil, err
	}

	msgs, err := s.db.ListMessages(ctx, matchId, viewerId)
	if err != nil {
		return nil, internalError("list messages", err)
	}

	return msgs, nil
}

// MarkSeen marks every message viewerId received in the match as seen and
// returns how many changed.
func (s *Store) MarkSeen(ctx context.Context, matchId, viewerId string) (int64, error) {
	if _, err := s.matches.Authorize(ctx, matchId, viewerId); err != nil {
		return 0, err
	}

	n, err := s.db.MarkSeen(ctx, matchId, viewerId)
	if err != nil {
		return 0, internalError("mark seen", err)
	}

	return n, nil
}

func (s *Store) Message(ctx context.Context, messageId string) (database.Message, error) {
	if err := validateMessageId(messageId); err != nil {
		return database.Message{}, err
	}

	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, internalError("get message", err)
	}

	return msg, nil
}

// SoftDelete hides the message for userId only.
func (s *Store) SoftDelete(ctx context.Context, messageId, userId string) error {
	if _, err := s.Message(ctx, messageId); err != nil {
		return err
	}

	if err := s.db.AddDeletedBy(ctx, messageId, userId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return internalError("soft delete message", err)
	}

	return nil
}

// HardDelete removes the message for both participants. Only the sender
// may do this. The removed message is returned so callers can notify the
// match.
func (s *Store) HardDelete(ctx context.Context, messageId, requesterId string) (database.Message, error) {
	msg, err := s.Message(ctx, messageId)
	if err != nil {
		return database.Message{}, err
	}

	if msg.SenderId != requesterId {
		return database.Message{}, ErrNotSender
	}

	if err := s.db.DeleteMessage(ctx, messageId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, internalError("delete message", err)
	}

	return msg, nil
}

// ClearForUser soft deletes every message currently in the match for
// userId. Messages appended afterwards stay visible.
func (s *Store) ClearForUser(ctx context.Context, matchId, userId string) (int64, error) {
	if _, err := s.matches.Authorize(ctx, matchId, userId); err != nil {
		return 0, err
	}

	n, err := s.db.AddDeletedByForMatch(ctx, matchId, userId)
	if err != nil {
		return 0, internalError("clear chat", err)
	}

	return n, nil
}

func ToMessage(msg database.Message) types.Message {
	deletedBy := msg.DeletedBy
	if deletedBy == nil {
		deletedBy = []string{}
	}

	return types.Message{
		Id:        msg.Id,
		MatchId:   msg.MatchId,
		SenderId:  msg.SenderId,
		Content:   msg.Content,
		Seen:      msg.Seen,
		DeletedBy: deletedBy,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
}

func ToMessages(msgs []database.Message) []types.Message {
	res := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		res = append(res, ToMessage(msg))
	}

	return res
}

// ToMatch renders the match from viewerId's side.
func ToMatch(m database.Match, viewerId string) types.Match {
	res := types.Match{
		Id:        m.Id,
		Users:     []string{m.UserA, m.UserB},
		CreatedAt: m.CreatedAt,
	}

	switch viewerId {
	case m.UserA:
		res.PartnerId = m.UserB
	case m.UserB:
		res.PartnerId = m.UserA
	}

	return res
}

// Partner returns the other participant of the match.
func Partner(m database.Match, userId string) string {
	if m.UserA == userId {
		return m.UserB
	}

	return m.UserA
}
