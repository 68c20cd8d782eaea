package store

import (
	"context"
	"database/sql"
	"time"

	"callcenter/internal/domain"
)

// UpsertAgent creates the agent or updates contact details and the active
// flag of an existing one with the same name.
func (s *Store) UpsertAgent(ctx context.Context, a domain.Agent) (*domain.Agent, error) {
	var (
		out          domain.Agent
		email, phone sql.NullString
		created      int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO agents (name, email, phone, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			is_active = excluded.is_active
		RETURNING id, name, email, phone, is_active, created_at`),
		a.Name, nullString(a.Email), nullString(a.Phone), a.Active, toMicros(s.now()),
	).Scan(&out.ID, &out.Name, &email, &phone, &out.Active, &created)
	if err != nil {
		return nil, domain.Storage("upsert agent", err)
	}
	out.Email = email.String
	out.Phone = phone.String
	out.CreatedAt = fromMicros(created)
	return &out, nil
}

func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	query := "SELECT id, name, email, phone, is_active, created_at FROM agents"
	var args []any
	if activeOnly {
		query += " WHERE is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("list agents", err)
	}
	defer rows.Close()

	agents := []domain.Agent{}
	for rows.Next() {
		var (
			a            domain.Agent
			email, phone sql.NullString
			created      int64
		)
		if err := rows.Scan(&a.ID, &a.Name, &email, &phone, &a.Active, &created); err != nil {
			return nil, domain.Storage("list agents", err)
		}
		a.Email = email.String
		a.Phone = phone.String
		a.CreatedAt = fromMicros(created)
		agents = append(agents, a)
	}
	return agents, domain.Storage("list agents", rows.Err())
}

// InsertSchedules stores all items in one transaction and returns how many
// were written.
func (s *Store) InsertSchedules(ctx context.Context, items []domain.Schedule) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Storage("insert schedules", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO schedules
		(agent, day, shift_start, shift_end, role, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, domain.Storage("insert schedules", err)
	}
	defer stmt.Close()

	now := toMicros(s.now())
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Agent, it.Date, toMicros(it.ShiftStart), toMicros(it.ShiftEnd),
			nullString(it.Role), nullString(it.Notes), now); err != nil {
			return 0, domain.Storage("insert schedules", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.Storage("insert schedules", err)
	}
	return len(items), nil
}

// ListSchedules returns schedules whose day falls in [fromDate, toDate].
// Empty bounds and an empty agent are unfiltered.
func (s *Store) ListSchedules(ctx context.Context, fromDate, toDate, agent string) ([]domain.Schedule, error) {
	query := "SELECT id, agent, day, shift_start, shift_end, role, notes FROM schedules WHERE 1=1"
	var args []any
	if fromDate != "" {
		query += " AND day >= ?"
		args = append(args, fromDate)
	}
	if toDate != "" {
		query += " AND day <= ?"
		args = append(args, toDate)
	}
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY day, agent, shift_start"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("list schedules", err)
	}
	defer rows.Close()

	out := []domain.Schedule{}
	for rows.Next() {
		var (
			sc          domain.Schedule
			start, end  int64
			role, notes sql.NullString
		)
		if err := rows.Scan(&sc.ID, &sc.Agent, &sc.Date, &start, &end, &role, &notes); err != nil {
			return nil, domain.Storage("list schedules", err)
		}
		sc.ShiftStart = fromMicros(start)
		sc.ShiftEnd = fromMicros(end)
		sc.Role = role.String
		sc.Notes = notes.String
		out = append(out, sc)
	}
	return out, domain.Storage("list schedules", rows.Err())
}

// OnShift reports whether any of the agent's shifts covers at.
func (s *Store) OnShift(ctx context.Context, agent string, at time.Time) (bool, error) {
	return s.exists(ctx, "on shift",
		`SELECT COUNT(*) FROM schedules WHERE agent = ? AND shift_start <= ? AND shift_end > ?`,
		agent, toMicros(at), toMicros(at))
}

func (s *Store) InsertLeave(ctx context.Context, l domain.Leave) (*domain.Leave, error) {
	now := s.now()
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO leaves (agent, start_at, end_at, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		l.Agent, toMicros(l.Start), toMicros(l.End), nullString(l.Reason), l.Status, toMicros(now),
	).Scan(&l.ID)
	if err != nil {
		return nil, domain.Storage("insert leave", err)
	}
	l.Start = l.Start.UTC().Truncate(time.Microsecond)
	l.End = l.End.UTC().Truncate(time.Microsecond)
	l.CreatedAt = now.Truncate(time.Microsecond)
	return &l, nil
}

// ListLeaves returns leaves ordered by start, optionally for one agent.
func (s *Store) ListLeaves(ctx context.Context, agent string) ([]domain.Leave, error) {
	query := "SELECT id, agent, start_at, end_at, reason, status, created_at FROM leaves"
	var args []any
	if agent != "" {
		query += " WHERE agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY start_at, id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("list leaves", err)
	}
	defer rows.Close()

	out := []domain.Leave{}
	for rows.Next() {
		var (
			l                   domain.Leave
			start, end, created int64
			reason              sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Agent, &start, &end, &reason, &l.Status, &created); err != nil {
			return nil, domain.Storage("list leaves", err)
		}
		l.Start = fromMicros(start)
		l.End = fromMicros(end)
		l.Reason = reason.String
		l.CreatedAt = fromMicros(created)
		out = append(out, l)
	}
	return out, domain.Storage("list leaves", rows.Err())
}

// OnLeave reports whether an approved leave window contains at.
func (s *Store) OnLeave(ctx context.Context, agent string, at time.Time) (bool, error) {
	return s.exists(ctx, "on leave",
		`SELECT COUNT(*) FROM leaves WHERE agent = ? AND status = ? AND start_at <= ? AND end_at > ?`,
		agent, domain.LeaveApproved, toMicros(at), toMicros(at))
}

func (s *Store) InsertEscalation(ctx context.Context, e domain.Escalation) (*domain.Escalation, error) {
	now := s.now()
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO escalations
		(reference, agent, reason, priority, recipient, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.Reference, e.Agent, e.Reason, e.Priority, nullString(e.Recipient), e.Status, toMicros(now),
	).Scan(&e.ID)
	if err != nil {
		return nil, domain.Storage("insert escalation", err)
	}
	e.CreatedAt = now.Truncate(time.Microsecond)
	return &e, nil
}

// ListEscalations returns the newest escalations, optionally by status.
func (s *Store) ListEscalations(ctx context.Context, status string, limit int) ([]domain.Escalation, error) {
	query := "SELECT id, reference, agent, reason, priority, recipient, status, created_at FROM escalations"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(limit, 50, maxListLimit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, domain.Storage("list escalations", err)
	}
	defer rows.Close()

	out := []domain.Escalation{}
	for rows.Next() {
		var (
			e         domain.Escalation
			recipient sql.NullString
			created   int64
		)
		if err := rows.Scan(&e.ID, &e.Reference, &e.Agent, &e.Reason, &e.Priority, &recipient, &e.Status, &created); err != nil {
			return nil, domain.Storage("list escalations", err)
		}
		e.Recipient = recipient.String
		e.CreatedAt = fromMicros(created)
		out = append(out, e)
	}
	return out, domain.Storage("list escalations", rows.Err())
}

func (s *Store) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return false, domain.Storage(op, err)
	}
	return n > 0, nil
}
