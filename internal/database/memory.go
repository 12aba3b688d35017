package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemChatRepository keeps matches and messages in process memory. It backs
// the server when started with the "memory" DSN and stands in for Postgres
// in tests.
type MemChatRepository struct {
	mu       sync.RWMutex
	matches  map[string]Match
	messages map[string]Message
	seq      int64
}

func NewMemChatRepository() *MemChatRepository {
	return &MemChatRepository{
		matches:  make(map[string]Match),
		messages: make(map[string]Message),
	}
}

func (db *MemChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *MemChatRepository) CreateMatch(_ context.Context, params CreateMatchParams) (Match, error) {
	userA, userB := orderedPair(params.UserA, params.UserB)
	if userA == userB {
		return Match{}, fmt.Errorf("match requires two distinct users")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, m := range db.matches {
		if m.UserA == userA && m.UserB == userB {
			return Match{}, ErrDuplicateMatch
		}
	}

	m := Match{
		Id:        uuid.NewString(),
		UserA:     userA,
		UserB:     userB,
		CreatedAt: time.Now().UTC(),
	}
	db.matches[m.Id] = m

	return m, nil
}

func (db *MemChatRepository) GetMatch(_ context.Context, matchId string) (Match, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	m, ok := db.matches[matchId]
	if !ok {
		return Match{}, sql.ErrNoRows
	}

	return m, nil
}

func (db *MemChatRepository) ListMatchesForUser(_ context.Context, userId string) ([]Match, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	matches := make([]Match, 0)
	for _, m := range db.matches {
		if m.HasUser(userId) {
			matches = append(matches, m)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	return matches, nil
}

func (db *MemChatRepository) DeleteMatch(_ context.Context, matchId string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.matches[matchId]; !ok {
		return sql.ErrNoRows
	}

	for id, msg := range db.messages {
		if msg.MatchId == matchId {
			delete(db.messages, id)
		}
	}
	delete(db.matches, matchId)

	return nil
}

func (db *MemChatRepository) CreateMessage(_ context.Context, params CreateMessageParams) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.matches[params.MatchId]; !ok {
		return Message{}, fmt.Errorf("insert message: match %q does not exist", params.MatchId)
	}

	db.seq++
	msg := Message{
		Id:        uuid.NewString(),
		Seq:       db.seq,
		MatchId:   params.MatchId,
		SenderId:  params.SenderId,
		Content:   params.Content,
		DeletedBy: []string{},
		CreatedAt: params.CreatedAt,
		UpdatedAt: params.CreatedAt,
	}
	db.messages[msg.Id] = msg

	return copyMessage(msg), nil
}

func (db *MemChatRepository) GetMessage(_ context.Context, messageId string) (Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	msg, ok := db.messages[messageId]
	if !ok {
		return Message{}, sql.ErrNoRows
	}

	return copyMessage(msg), nil
}

func (db *MemChatRepository) ListMessages(_ context.Context, matchId, viewerId string) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	messages := make([]Message, 0)
	for _, msg := range db.messages {
		if msg.MatchId != matchId || slices.Contains(msg.DeletedBy, viewerId) {
			continue
		}
		messages = append(messages, copyMessage(msg))
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].Seq < messages[j].Seq
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}

func (db *MemChatRepository) MarkSeen(_ context.Context, matchId, viewerId string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for id, msg := range db.messages {
		if msg.MatchId != matchId || msg.SenderId == viewerId || msg.Seen {
			continue
		}
		msg.Seen = true
		msg.UpdatedAt = now
		db.messages[id] = msg
		n++
	}

	return n, nil
}

func (db *MemChatRepository) AddDeletedBy(_ context.Context, messageId, userId string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	msg, ok := db.messages[messageId]
	if !ok {
		return sql.ErrNoRows
	}

	if !slices.Contains(msg.DeletedBy, userId) {
		msg.DeletedBy = append(slices.Clone(msg.DeletedBy), userId)
	}
	msg.UpdatedAt = time.Now().UTC()
	db.messages[messageId] = msg

	return nil
}

func (db *MemChatRepository) AddDeletedByForMatch(_ context.Context, matchId, userId string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for id, msg := range db.messages {
		if msg.MatchId != matchId || slices.Contains(msg.DeletedBy, userId) {
			continue
		}
		msg.DeletedBy = append(slices.Clone(msg.DeletedBy), userId)
		msg.UpdatedAt = now
		db.messages[id] = msg
		n++
	}

	return n, nil
}

func (db *MemChatRepository) DeleteMessage(_ context.Context, messageId string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.messages[messageId]; !ok {
		return sql.ErrNoRows
	}
	delete(db.messages, messageId)

	return nil
}

func copyMessage(msg Message) Message {
	msg.DeletedBy = slices.Clone(msg.DeletedBy)
	if msg.DeletedBy == nil {
		msg.DeletedBy = []string{}
	}
	return msg
}
