package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter/internal/domain"
)

// unitOfWork wraps one database transaction.
type unitOfWork struct {
	s  *Store
	tx *sql.Tx
}

// Begin opens a transaction shared by the message insert and the
// conversation upsert of one record call.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Storage("begin", err)
	}
	return &unitOfWork{s: s, tx: tx}, nil
}

func (u *unitOfWork) MessageByPlatformID(ctx context.Context, platformMessageID string) (*domain.Message, error) {
	if platformMessageID == "" {
		return nil, nil
	}
	row := u.tx.QueryRowContext(ctx,
		u.s.q(`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`), platformMessageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storage("lookup message", err)
	}
	return m, nil
}

func (u *unitOfWork) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	extra, err := encodeExtra(m.ExtraData)
	if err != nil {
		return false, domain.Storage("encode extra_data", err)
	}
	now := u.s.now()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	var id int64
	err = u.tx.QueryRowContext(ctx, u.s.q(`
		INSERT INTO messages (message_id, agent, platform, recipient, content, message_type,
			sender_id, is_incoming, status, extra_data, occurred_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
		RETURNING id`),
		nullString(m.PlatformMessageID), m.Agent, string(m.Platform), m.Recipient, m.Content,
		m.MessageType, nullString(m.SenderID), m.Incoming, m.Status, extra,
		toMicros(m.Timestamp), toMicros(now), toMicros(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Storage("insert message", err)
	}

	m.ID = id
	m.Timestamp = m.Timestamp.UTC().Truncate(time.Microsecond)
	m.CreatedAt = now.Truncate(time.Microsecond)
	m.UpdatedAt = m.CreatedAt
	return true, nil
}

func (u *unitOfWork) UpsertConversation(ctx context.Context, key domain.ConversationKey, agent string, at time.Time) (*domain.Conversation, error) {
	now := u.s.now()
	row := u.tx.QueryRowContext(ctx, u.s.q(`
		INSERT INTO conversations (recipient, platform, agent, last_message_at, message_count,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(recipient, platform) DO UPDATE SET
			agent = excluded.agent,
			message_count = conversations.message_count + 1,
			last_message_at = CASE
				WHEN excluded.last_message_at > conversations.last_message_at THEN excluded.last_message_at
				ELSE conversations.last_message_at
			END,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING `+conversationColumns),
		key.Recipient, string(key.Platform), nullString(agent), toMicros(at), true,
		toMicros(now), toMicros(now),
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, domain.Storage("upsert conversation", err)
	}
	return c, nil
}

func (u *unitOfWork) Commit() error {
	return domain.Storage("commit", u.tx.Commit())
}

// Rollback is safe to call after Commit.
func (u *unitOfWork) Rollback() error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return domain.Storage("rollback", err)
}
