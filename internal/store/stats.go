package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/domain"
)

const microsPerHour = int64(time.Hour / time.Microsecond)

// window builds a WHERE fragment for an optional [start, end] range.
func window(start, end time.Time, extra ...string) (string, []any) {
	conds := append([]string(nil), extra...)
	var args []any
	if !start.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, toMicros(start))
	}
	if !end.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, toMicros(end))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// groupCount runs a two-column (key, count) grouping query into a map.
func (s *Store) groupCount(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

// MessageStats aggregates all traffic in the window. Zero bounds are open.
func (s *Store) MessageStats(ctx context.Context, start, end time.Time) (*domain.MessageStats, error) {
	where, args := window(start, end)
	st := &domain.MessageStats{
		Direction: map[string]int64{"incoming": 0, "outgoing": 0},
		Hourly:    map[int]int64{},
	}

	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM messages"+where), args...).Scan(&st.Total); err != nil {
		return nil, domain.Storage("message stats", err)
	}

	var err error
	if st.Platforms, err = s.groupCount(ctx, "SELECT platform, COUNT(*) FROM messages"+where+" GROUP BY platform", args...); err != nil {
		return nil, domain.Storage("message stats", err)
	}
	if st.Agents, err = s.groupCount(ctx, "SELECT agent, COUNT(*) FROM messages"+where+" GROUP BY agent", args...); err != nil {
		return nil, domain.Storage("message stats", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q("SELECT is_incoming, COUNT(*) FROM messages"+where+" GROUP BY is_incoming"), args...)
	if err != nil {
		return nil, domain.Storage("message stats", err)
	}
	for rows.Next() {
		var (
			incoming bool
			n        int64
		)
		if err := rows.Scan(&incoming, &n); err != nil {
			rows.Close()
			return nil, domain.Storage("message stats", err)
		}
		if incoming {
			st.Direction["incoming"] = n
		} else {
			st.Direction["outgoing"] = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("message stats", err)
	}

	hourExpr := "(occurred_at / " + strconv.FormatInt(microsPerHour, 10) + ") % 24"
	rows, err = s.db.QueryContext(ctx, s.q("SELECT "+hourExpr+" AS hour, COUNT(*) FROM messages"+where+" GROUP BY "+hourExpr), args...)
	if err != nil {
		return nil, domain.Storage("message stats", err)
	}
	for rows.Next() {
		var hour, n int64
		if err := rows.Scan(&hour, &n); err != nil {
			rows.Close()
			return nil, domain.Storage("message stats", err)
		}
		st.Hourly[int(hour)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("message stats", err)
	}

	rows, err = s.db.QueryContext(ctx, s.q("SELECT recipient, COUNT(*) AS n FROM messages"+where+
		" GROUP BY recipient ORDER BY n DESC, recipient LIMIT 10"), args...)
	if err != nil {
		return nil, domain.Storage("message stats", err)
	}
	defer rows.Close()
	st.TopRecipients = []domain.RecipientCount{}
	for rows.Next() {
		var rc domain.RecipientCount
		if err := rows.Scan(&rc.Recipient, &rc.Count); err != nil {
			return nil, domain.Storage("message stats", err)
		}
		st.TopRecipients = append(st.TopRecipients, rc)
	}
	return st, domain.Storage("message stats", rows.Err())
}

// AgentPerformance aggregates one agent's traffic in the window.
func (s *Store) AgentPerformance(ctx context.Context, agent string, start, end time.Time) (*domain.AgentPerformance, error) {
	where, args := window(start, end, "agent = ?")
	args = append([]any{agent}, args...)

	p := &domain.AgentPerformance{Agent: agent}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_incoming THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT recipient)
		FROM messages`+where), args...).Scan(&p.Total, &p.Incoming, &p.UniqueRecipients)
	if err != nil {
		return nil, domain.Storage("agent performance", err)
	}
	p.Outgoing = p.Total - p.Incoming

	if p.Platforms, err = s.groupCount(ctx, "SELECT platform, COUNT(*) FROM messages"+where+" GROUP BY platform", args...); err != nil {
		return nil, domain.Storage("agent performance", err)
	}
	return p, nil
}

// AgentReplies counts outgoing messages and distinct recipients per agent.
func (s *Store) AgentReplies(ctx context.Context, start, end time.Time) ([]domain.AgentReplies, error) {
	where, args := window(start, end, "is_incoming = ?")
	args = append([]any{false}, args...)

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT agent, COUNT(*), COUNT(DISTINCT recipient)
		FROM messages`+where+` GROUP BY agent ORDER BY agent`), args...)
	if err != nil {
		return nil, domain.Storage("agent replies", err)
	}
	defer rows.Close()

	out := []domain.AgentReplies{}
	for rows.Next() {
		var r domain.AgentReplies
		if err := rows.Scan(&r.Agent, &r.OutgoingCount, &r.RecipientsRepliedTo); err != nil {
			return nil, domain.Storage("agent replies", err)
		}
		out = append(out, r)
	}
	return out, domain.Storage("agent replies", rows.Err())
}
