package database

import (
	"context"
	"errors"
)

// ErrDuplicateMatch is returned when a match for the same pair of users exists.
var ErrDuplicateMatch = errors.New("match already exists")

// ChatRepository is the durable store behind the chat core. Lookups of
// missing records return sql.ErrNoRows, wrapped or bare.
type ChatRepository interface {
	Ping(ctx context.Context) error

	CreateMatch(ctx context.Context, params CreateMatchParams) (Match, error)
	GetMatch(ctx context.Context, matchId string) (Match, error)
	ListMatchesForUser(ctx context.Context, userId string) ([]Match, error)
	DeleteMatch(ctx context.Context, matchId string) error

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, messageId string) (Message, error)
	ListMessages(ctx context.Context, matchId, viewerId string) ([]Message, error)
	MarkSeen(ctx context.Context, matchId, viewerId string) (int64, error)
	AddDeletedBy(ctx context.Context, messageId, userId string) error
	AddDeletedByForMatch(ctx context.Context, matchId, userId string) (int64, error)
	DeleteMessage(ctx context.Context, messageId string) error
}
