package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	matchColumns   = "id, user_a, user_b, created_at"
	messageColumns = "id, seq, match_id, sender_id, content, seen, deleted_by, created_at, updated_at"

	uniqueViolation = "23505"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (Match, error) {
	var m Match
	err := row.Scan(&m.Id, &m.UserA, &m.UserB, &m.CreatedAt)
	return m, err
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.Seq,
		&msg.MatchId,
		&msg.SenderId,
		&msg.Content,
		&msg.Seen,
		pq.Array(&msg.DeletedBy),
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	return msg, err
}

func (db *PgChatRepository) CreateMatch(ctx context.Context, params CreateMatchParams) (Match, error) {
	userA, userB := orderedPair(params.UserA, params.UserB)
	if userA == userB {
		return Match{}, fmt.Errorf("match requires two distinct users")
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO matches (id, user_a, user_b, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING "+matchColumns,
		uuid.NewString(),
		userA,
		userB,
		time.Now().UTC(),
	)

	m, err := scanMatch(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Match{}, ErrDuplicateMatch
		}
		return Match{}, err
	}

	return m, nil
}

func (db *PgChatRepository) GetMatch(ctx context.Context, matchId string) (Match, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+matchColumns+" FROM matches WHERE id = $1 LIMIT 1",
		matchId,
	)

	return scanMatch(row)
}

func (db *PgChatRepository) ListMatchesForUser(ctx context.Context, userId string) ([]Match, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+matchColumns+" FROM matches "+
			"WHERE user_a = $1 OR user_b = $1 ORDER BY created_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

func (db *PgChatRepository) DeleteMatch(ctx context.Context, matchId string) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE match_id = $1", matchId); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE id = $1", matchId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = sql.ErrNoRows
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, match_id, sender_id, content, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING "+messageColumns,
		uuid.NewString(),
		params.MatchId,
		params.SenderId,
		params.Content,
		params.CreatedAt,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		messageId,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) ListMessages(ctx context.Context, matchId, viewerId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE match_id = $1 AND NOT ($2::text = ANY(deleted_by)) "+
			"ORDER BY created_at ASC, seq ASC",
		matchId,
		viewerId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) MarkSeen(ctx context.Context, matchId, viewerId string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET seen = TRUE, updated_at = $3 "+
			"WHERE match_id = $1 AND sender_id <> $2 AND seen = FALSE",
		matchId,
		viewerId,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgChatRepository) AddDeletedBy(ctx context.Context, messageId, userId string) error {
	// the CASE keeps the row matched when the user is already present so
	// a zero row count only ever means the message is gone
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET "+
			"deleted_by = CASE WHEN $2::text = ANY(deleted_by) THEN deleted_by ELSE array_append(deleted_by, $2::text) END, "+
			"updated_at = $3 WHERE id = $1",
		messageId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgChatRepository) AddDeletedByForMatch(ctx context.Context, matchId, userId string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET deleted_by = array_append(deleted_by, $2::text), updated_at = $3 "+
			"WHERE match_id = $1 AND NOT ($2::text = ANY(deleted_by))",
		matchId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
