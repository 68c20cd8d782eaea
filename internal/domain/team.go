package domain

import (
	"context"
	"time"
)

// Agent is a human call-center agent.
type Agent struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Schedule is one shift for one agent on one day.
type Schedule struct {
	ID         int64     `json:"id"`
	Agent      string    `json:"agent"`
	Date       string    `json:"date"` // YYYY-MM-DD
	ShiftStart time.Time `json:"shift_start"`
	ShiftEnd   time.Time `json:"shift_end"`
	Role       string    `json:"role,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Leave statuses.
const (
	LeaveRequested = "requested"
	LeaveApproved  = "approved"
	LeaveDenied    = "denied"
)

// Leave is a half-open [Start, End) absence window.
type Leave struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	Start     time.Time `json:"start_date"`
	End       time.Time `json:"end_date"`
	Reason    string    `json:"reason,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Contains reports whether t falls inside the leave window.
func (l Leave) Contains(t time.Time) bool {
	return !t.Before(l.Start) && t.Before(l.End)
}

// Escalation priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Escalation flags a conversation for supervisor attention.
type Escalation struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference"`
	Agent     string    `json:"agent"`
	Reason    string    `json:"reason"`
	Priority  string    `json:"priority"`
	Recipient string    `json:"recipient,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamStore persists agents, schedules, leaves and escalations.
type TeamStore interface {
	UpsertAgent(ctx context.Context, a Agent) (*Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]Agent, error)

	InsertSchedules(ctx context.Context, items []Schedule) (int, error)
	ListSchedules(ctx context.Context, fromDate, toDate string, agent string) ([]Schedule, error)
	OnShift(ctx context.Context, agent string, at time.Time) (bool, error)

	InsertLeave(ctx context.Context, l Leave) (*Leave, error)
	ListLeaves(ctx context.Context, agent string) ([]Leave, error)
	OnLeave(ctx context.Context, agent string, at time.Time) (bool, error)

	InsertEscalation(ctx context.Context, e Escalation) (*Escalation, error)
	ListEscalations(ctx context.Context, status string, limit int) ([]Escalation, error)
}
