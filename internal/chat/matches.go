package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/npezzotti/campus-connect/internal/database"
)

// Matches answers membership questions from the durable match records.
type Matches struct {
	db database.ChatRepository
}

func NewMatches(db database.ChatRepository) *Matches {
	return &Matches{db: db}
}

// validId reports whether id is a canonical, lowercase UUID, the only form
// the repositories ever hand out.
func validId(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}

	return parsed.String() == id
}

func (m *Matches) get(ctx context.Context, matchId string) (database.Match, error) {
	if !validId(matchId) {
		return database.Match{}, ErrInvalidMatchId
	}

	match, err := m.db.GetMatch(ctx, matchId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Match{}, ErrMatchNotFound
		}
		return database.Match{}, internalError("get match", err)
	}

	return match, nil
}

func (m *Matches) Participants(ctx context.Context, matchId string) ([2]string, error) {
	match, err := m.get(ctx, matchId)
	if err != nil {
		return [2]string{}, err
	}

	return match.Users(), nil
}

// IsParticipant fails with ErrMatchNotFound rather than returning false
// when the match does not exist.
func (m *Matches) IsParticipant(ctx context.Context, matchId, userId string) (bool, error) {
	match, err := m.get(ctx, matchId)
	if err != nil {
		return false, err
	}

	return match.HasUser(userId), nil
}

// Authorize returns the match if userId is one of its participants.
func (m *Matches) Authorize(ctx context.Context, matchId, userId string) (database.Match, error) {
	match, err := m.get(ctx, matchId)
	if err != nil {
		return database.Match{}, err
	}

	if !match.HasUser(userId) {
		return database.Match{}, ErrNotParticipant
	}

	return match, nil
}

func (m *Matches) ListForUser(ctx context.Context, userId string) ([]database.Match, error) {
	matches, err := m.db.ListMatchesForUser(ctx, userId)
	if err != nil {
		return nil, internalError("list matches", err)
	}

	return matches, nil
}

func (m *Matches) Create(ctx context.Context, userA, userB string) (database.Match, error) {
	if userA == "" || userB == "" || userA == userB {
		return database.Match{}, &Error{Kind: InvalidArgument, Message: "a match needs two different users"}
	}

	match, err := m.db.CreateMatch(ctx, database.CreateMatchParams{UserA: userA, UserB: userB})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateMatch) {
			return database.Match{}, &Error{Kind: Conflict, Message: "match already exists", Err: err}
		}
		return database.Match{}, internalError("create match", err)
	}

	return match, nil
}

// Remove deletes the match together with its messages. Only a participant
// may unmatch.
func (m *Matches) Remove(ctx context.Context, matchId, userId string) (database.Match, error) {
	match, err := m.Authorize(ctx, matchId, userId)
	if err != nil {
		return database.Match{}, err
	}

	if err := m.db.DeleteMatch(ctx, match.Id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Match{}, ErrMatchNotFound
		}
		return database.Match{}, internalError("delete match", err)
	}

	return match, nil
}
