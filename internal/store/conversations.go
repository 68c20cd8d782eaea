package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter/internal/domain"
)

const conversationColumns = `id, recipient, platform, agent, last_message_at, message_count,
	is_active, created_at, updated_at`

func scanConversation(r rowScanner) (*domain.Conversation, error) {
	var (
		c             domain.Conversation
		platform      string
		agent         sql.NullString
		last, cre, up int64
	)
	if err := r.Scan(&c.ID, &c.Recipient, &platform, &agent, &last, &c.MessageCount,
		&c.Active, &cre, &up); err != nil {
		return nil, err
	}
	c.Platform = domain.Platform(platform)
	c.Agent = agent.String
	c.LastMessageAt = fromMicros(last)
	c.CreatedAt = fromMicros(cre)
	c.UpdatedAt = fromMicros(up)
	return &c, nil
}

// GetConversation returns nil, nil when no conversation exists for key.
func (s *Store) GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+conversationColumns+
		" FROM conversations WHERE recipient = ? AND platform = ?"),
		key.Recipient, string(key.Platform))
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storage("get conversation", err)
	}
	return c, nil
}

// ListActiveConversations returns active threads, most recent first.
func (s *Store) ListActiveConversations(ctx context.Context, limit, offset int) ([]domain.Conversation, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+conversationColumns+
		" FROM conversations WHERE is_active = ? ORDER BY last_message_at DESC, id DESC LIMIT ? OFFSET ?"),
		true, clampLimit(limit, 50, maxListLimit), offset)
	if err != nil {
		return nil, domain.Storage("list conversations", err)
	}
	defer rows.Close()

	convs := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, domain.Storage("list conversations", err)
		}
		convs = append(convs, *c)
	}
	return convs, domain.Storage("list conversations", rows.Err())
}

// AgentLoad counts the agent's active conversations and their newest
// activity. lastActivity is zero when the agent owns none.
func (s *Store) AgentLoad(ctx context.Context, agent string) (int64, time.Time, error) {
	var (
		owned int64
		last  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*), MAX(last_message_at)
		FROM conversations WHERE agent = ? AND is_active = ?`), agent, true).Scan(&owned, &last)
	if err != nil {
		return 0, time.Time{}, domain.Storage("agent load", err)
	}
	if !last.Valid {
		return owned, time.Time{}, nil
	}
	return owned, fromMicros(last.Int64), nil
}

// SetConversationActive flips is_active without touching counters.
func (s *Store) SetConversationActive(ctx context.Context, key domain.ConversationKey, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE conversations SET is_active = ?, updated_at = ?
		WHERE recipient = ? AND platform = ?`),
		active, toMicros(s.now()), key.Recipient, string(key.Platform))
	if err != nil {
		return false, domain.Storage("set conversation active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Storage("set conversation active", err)
	}
	return n > 0, nil
}
