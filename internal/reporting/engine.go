// Package reporting builds agent workload reports from the message log.
package reporting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"callcenter/internal/domain"
	"callcenter/internal/initials"
)

const dateLayout = "2006-01-02"

// maxAvailabilityLookups bounds concurrent per-agent availability queries.
const maxAvailabilityLookups = 8

// Store is everything reports read.
type Store interface {
	domain.MessageReader
	AgentLoad(ctx context.Context, agent string) (int64, time.Time, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error)
	OnLeave(ctx context.Context, agent string, at time.Time) (bool, error)
	OnShift(ctx context.Context, agent string, at time.Time) (bool, error)
}

// Engine answers report queries. It only reads.
type Engine struct {
	store  Store
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, loc: loc, logger: logger, now: time.Now}
}

// DayBounds returns [start, next day start) for a YYYY-MM-DD day in the
// engine's zone. An empty day means today.
func (e *Engine) DayBounds(day string) (time.Time, time.Time, error) {
	day = strings.TrimSpace(day)
	var start time.Time
	if day == "" {
		n := e.now().In(e.loc)
		start = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, e.loc)
	} else {
		d, err := time.ParseInLocation(dateLayout, day, e.loc)
		if err != nil {
			return time.Time{}, time.Time{}, domain.Invalid("date", "must be YYYY-MM-DD")
		}
		start = d
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Range parses optional YYYY-MM-DD bounds into an inclusive time window
// covering whole days. Empty bounds stay zero.
func (e *Engine) Range(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	if strings.TrimSpace(from) != "" {
		s, _, err := e.DayBounds(from)
		if err != nil {
			return start, end, domain.Invalid("start", "must be YYYY-MM-DD")
		}
		start = s
	}
	if strings.TrimSpace(to) != "" {
		_, next, err := e.DayBounds(to)
		if err != nil {
			return start, end, domain.Invalid("end", "must be YYYY-MM-DD")
		}
		end = next.Add(-time.Microsecond)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, domain.Invalid("end", "must not be before start")
	}
	return start, end, nil
}

// DailyReport counts the agent's traffic for one day, split by direction.
// The agent is on leave when an approved leave contains the day start.
func (e *Engine) DailyReport(ctx context.Context, agent, day string) (*domain.DailyReport, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, domain.Invalid("agent", "is required")
	}
	start, end, err := e.DayBounds(day)
	if err != nil {
		return nil, err
	}

	msgs, err := e.store.AgentDayMessages(ctx, agent, start, end)
	if err != nil {
		return nil, err
	}
	onLeave, err := e.store.OnLeave(ctx, agent, start)
	if err != nil {
		return nil, err
	}

	r := &domain.DailyReport{
		Agent:      agent,
		Date:       start.Format(dateLayout),
		Incoming:   domain.DirectionSummary{Recipients: []string{}},
		Outgoing:   domain.DirectionSummary{Recipients: []string{}},
		Recipients: []string{},
		OnLeave:    onLeave,
	}
	seen := map[string]bool{}
	seenIn := map[string]bool{}
	seenOut := map[string]bool{}
	for _, m := range msgs {
		if m.Incoming {
			r.Incoming.Count++
			r.Incoming.Recipients = appendOnce(r.Incoming.Recipients, seenIn, m.Recipient)
		} else {
			r.Outgoing.Count++
			r.Outgoing.Recipients = appendOnce(r.Outgoing.Recipients, seenOut, m.Recipient)
			if r.Initials == "" {
				r.Initials = m.Initials()
			}
		}
		r.Recipients = appendOnce(r.Recipients, seen, m.Recipient)
	}
	r.Display = initials.Display(agent, r.Initials)
	return r, nil
}

func appendOnce(list []string, seen map[string]bool, v string) []string {
	if v == "" || seen[v] {
		return list
	}
	seen[v] = true
	return append(list, v)
}

// Availability reports workload, leave and shift state for each agent now.
// An empty list means every active agent.
func (e *Engine) Availability(ctx context.Context, agents []string) ([]domain.Availability, error) {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	if len(names) == 0 {
		all, err := e.store.ListAgents(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, a := range all {
			names = append(names, a.Name)
		}
	}

	now := e.now()
	out := make([]domain.Availability, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxAvailabilityLookups)
	for i, name := range names {
		g.Go(func() error {
			av, err := e.availability(gctx, name, now)
			if err != nil {
				return err
			}
			out[i] = av
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) availability(ctx context.Context, agent string, now time.Time) (domain.Availability, error) {
	av := domain.Availability{Agent: agent}
	owned, last, err := e.store.AgentLoad(ctx, agent)
	if err != nil {
		return av, err
	}
	av.OwnedConversations = owned
	if !last.IsZero() {
		av.LastActivity = &last
	}
	if av.OnLeave, err = e.store.OnLeave(ctx, agent, now); err != nil {
		return av, err
	}
	if av.OnShift, err = e.store.OnShift(ctx, agent, now); err != nil {
		return av, err
	}
	return av, nil
}

// Statistics is the traffic breakdown for [from, to] days.
func (e *Engine) Statistics(ctx context.Context, from, to string) (*domain.MessageStats, error) {
	start, end, err := e.Range(from, to)
	if err != nil {
		return nil, err
	}
	return e.store.MessageStats(ctx, start, end)
}

// Performance is one agent's traffic breakdown for [from, to] days.
func (e *Engine) Performance(ctx context.Context, agent, from, to string) (*domain.AgentPerformance, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, domain.Invalid("agent", "is required")
	}
	start, end, err := e.Range(from, to)
	if err != nil {
		return nil, err
	}
	return e.store.AgentPerformance(ctx, agent, start, end)
}

// Replies counts outgoing replies per agent for [from, to] days.
func (e *Engine) Replies(ctx context.Context, from, to string) ([]domain.AgentReplies, error) {
	start, end, err := e.Range(from, to)
	if err != nil {
		return nil, err
	}
	return e.store.AgentReplies(ctx, start, end)
}
