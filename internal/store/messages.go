package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"callcenter/internal/domain"
)

const messageColumns = `id, message_id, agent, platform, recipient, content, message_type,
	sender_id, is_incoming, status, extra_data, occurred_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*domain.Message, error) {
	var (
		m                  domain.Message
		platform           string
		msgID, sender      sql.NullString
		msgType, extra     sql.NullString
		occurred, cre, upd int64
	)
	if err := r.Scan(&m.ID, &msgID, &m.Agent, &platform, &m.Recipient, &m.Content, &msgType,
		&sender, &m.Incoming, &m.Status, &extra, &occurred, &cre, &upd); err != nil {
		return nil, err
	}
	m.PlatformMessageID = msgID.String
	m.Platform = domain.Platform(platform)
	m.MessageType = msgType.String
	m.SenderID = sender.String
	m.ExtraData = decodeExtra(extra.String)
	m.Timestamp = fromMicros(occurred)
	m.CreatedAt = fromMicros(cre)
	m.UpdatedAt = fromMicros(upd)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()
	msgs := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func encodeExtra(extra map[string]any) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeExtra tolerates rows written by older tools with malformed JSON.
func decodeExtra(s string) map[string]any {
	if s == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{"raw": s}
	}
	return out
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ListMessages returns messages matching f, newest first.
func (s *Store) ListMessages(ctx context.Context, f domain.MessageFilter) ([]domain.Message, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.Recipient != "" {
		where = append(where, "recipient = ?")
		args = append(args, f.Recipient)
	}
	if f.Incoming != nil {
		where = append(where, "is_incoming = ?")
		args = append(args, *f.Incoming)
	}
	if !f.Start.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, toMicros(f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, toMicros(f.End))
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?"
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampLimit(f.Limit, defaultListLimit, maxListLimit), offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("list messages", err)
	}
	msgs, err := scanMessages(rows)
	return msgs, domain.Storage("list messages", err)
}

// SearchMessages matches term case-insensitively against content, recipient
// and agent.
func (s *Store) SearchMessages(ctx context.Context, term, agent string, platform domain.Platform, limit int) ([]domain.Message, error) {
	pattern := "%" + term + "%"
	query := "SELECT " + messageColumns + ` FROM messages
		WHERE (LOWER(content) LIKE LOWER(?) OR LOWER(recipient) LIKE LOWER(?) OR LOWER(agent) LIKE LOWER(?))`
	args := []any{pattern, pattern, pattern}
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	if platform != "" {
		query += " AND platform = ?"
		args = append(args, string(platform))
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(limit, defaultListLimit, maxListLimit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("search messages", err)
	}
	msgs, err := scanMessages(rows)
	return msgs, domain.Storage("search messages", err)
}

// AgentDayMessages returns the agent's messages in [start, end), oldest first.
func (s *Store) AgentDayMessages(ctx context.Context, agent string, start, end time.Time) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+messageColumns+` FROM messages
		WHERE agent = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at, id`),
		agent, toMicros(start), toMicros(end))
	if err != nil {
		return nil, domain.Storage("agent day messages", err)
	}
	msgs, err := scanMessages(rows)
	return msgs, domain.Storage("agent day messages", err)
}

// UpdateMessageStatus sets the delivery status of a stored message. It
// reports false when no message carries the platform id.
func (s *Store) UpdateMessageStatus(ctx context.Context, platformMessageID, status string) (bool, error) {
	if platformMessageID == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE messages SET status = ?, updated_at = ? WHERE message_id = ?`),
		status, toMicros(s.now()), platformMessageID)
	if err != nil {
		return false, domain.Storage("update message status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Storage("update message status", err)
	}
	return n > 0, nil
}
