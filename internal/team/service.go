// Package team manages agents, their schedules and leaves, and supervisor
// escalations.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"callcenter/internal/bus"
	"callcenter/internal/domain"
	"callcenter/internal/metrics"
	"callcenter/internal/security"
)

// DefaultLeaveLeadDays is how far ahead a leave must start.
const DefaultLeaveLeadDays = 7

// Config tunes the service.
type Config struct {
	LeaveLeadDays int
	Location      *time.Location
}

// Service applies the team rules on top of a domain.TeamStore.
type Service struct {
	store    domain.TeamStore
	events   *bus.EventBus
	leadTime time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store domain.TeamStore, events *bus.EventBus, cfg Config, logger *slog.Logger) *Service {
	if cfg.LeaveLeadDays <= 0 {
		cfg.LeaveLeadDays = DefaultLeaveLeadDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		store:    store,
		events:   events,
		leadTime: time.Duration(cfg.LeaveLeadDays) * 24 * time.Hour,
		loc:      cfg.Location,
		logger:   logger,
		now:      time.Now,
	}
}

// Location is the zone naive dates are read in.
func (s *Service) Location() *time.Location { return s.loc }

// --- Agents ---

func (s *Service) AddAgent(ctx context.Context, a domain.Agent) (*domain.Agent, error) {
	a.Name = security.Truncate(security.Sanitize(a.Name), domain.MaxAgentLen)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = strings.TrimSpace(a.Phone)
	if a.Name == "" {
		return nil, domain.Invalid("name", "is required")
	}
	if a.Email != "" && !security.ValidEmail(a.Email) {
		return nil, domain.Invalid("email", "invalid email address")
	}
	if a.Phone != "" && !security.ValidPhone(a.Phone) {
		return nil, domain.Invalid("phone", "invalid phone number format (E.164)")
	}
	saved, err := s.store.UpsertAgent(ctx, a)
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent saved", "name", saved.Name, "active", saved.Active)
	return saved, nil
}

func (s *Service) Agents(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	return s.store.ListAgents(ctx, activeOnly)
}

// --- Leaves ---

// LeaveRequest asks for a [Start, End) absence.
type LeaveRequest struct {
	Agent  string
	Start  time.Time
	End    time.Time
	Reason string
	Status string
}

// CreateLeave stores a leave that starts at least the configured lead time
// after now. Status defaults to approved.
func (s *Service) CreateLeave(ctx context.Context, req LeaveRequest) (*domain.Leave, error) {
	agent := security.Sanitize(req.Agent)
	switch {
	case agent == "":
		return nil, domain.Invalid("agent", "is required")
	case req.Start.IsZero() || req.End.IsZero():
		return nil, domain.Invalid("", "start_date and end_date are required")
	case !req.End.After(req.Start):
		return nil, domain.Invalid("end_date", "must be after start_date")
	}
	if earliest := s.now().Add(s.leadTime); req.Start.Before(earliest) {
		return nil, domain.Invalid("start_date",
			fmt.Sprintf("leave must be requested at least %d days in advance", int(s.leadTime.Hours()/24)))
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch status {
	case "":
		status = domain.LeaveApproved
	case domain.LeaveRequested, domain.LeaveApproved, domain.LeaveDenied:
	default:
		return nil, domain.Invalid("status", "must be requested, approved or denied")
	}

	l, err := s.store.InsertLeave(ctx, domain.Leave{
		Agent:  security.Truncate(agent, domain.MaxAgentLen),
		Start:  req.Start,
		End:    req.End,
		Reason: security.Sanitize(req.Reason),
		Status: status,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("leave created", "agent", l.Agent, "start", l.Start, "end", l.End, "status", l.Status)
	s.publish(bus.EventLeaveCreated, map[string]any{
		"id":     l.ID,
		"agent":  l.Agent,
		"start":  l.Start,
		"end":    l.End,
		"status": l.Status,
	})
	return l, nil
}

func (s *Service) Leaves(ctx context.Context, agent string) ([]domain.Leave, error) {
	return s.store.ListLeaves(ctx, strings.TrimSpace(agent))
}

// --- Escalations ---

// EscalationRequest flags a conversation for a supervisor.
type EscalationRequest struct {
	Agent     string `json:"agent"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// CreateEscalation stores the escalation under a fresh reference and emits
// escalation.created, which SubscribeAlerts turns into a supervisor alert.
func (s *Service) CreateEscalation(ctx context.Context, req EscalationRequest) (*domain.Escalation, error) {
	agent := security.Sanitize(req.Agent)
	reason := security.Sanitize(req.Reason)
	if agent == "" || reason == "" {
		return nil, domain.Invalid("", "agent and reason are required")
	}
	priority := strings.ToLower(strings.TrimSpace(req.Priority))
	switch priority {
	case "":
		priority = domain.PriorityNormal
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return nil, domain.Invalid("priority", "must be low, normal, high or urgent")
	}

	e, err := s.store.InsertEscalation(ctx, domain.Escalation{
		Reference: uuid.NewString(),
		Agent:     security.Truncate(agent, domain.MaxAgentLen),
		Reason:    reason,
		Priority:  priority,
		Recipient: security.Truncate(security.Sanitize(req.Recipient), domain.MaxRecipientLen),
		Status:    "open",
	})
	if err != nil {
		return nil, err
	}
	metrics.EscalationsTotal.Inc()
	s.logger.Warn("escalation created", "reference", e.Reference, "agent", e.Agent, "priority", e.Priority)
	s.publish(bus.EventEscalationCreated, map[string]any{
		"reference": e.Reference,
		"agent":     e.Agent,
		"priority":  e.Priority,
		"recipient": e.Recipient,
		"reason":    e.Reason,
	})
	return e, nil
}

func (s *Service) Escalations(ctx context.Context, status string, limit int) ([]domain.Escalation, error) {
	return s.store.ListEscalations(ctx, strings.TrimSpace(status), limit)
}

func (s *Service) publish(eventType string, payload map[string]any) {
	if s.events != nil {
		s.events.Publish(eventType, "team", payload)
	}
}
