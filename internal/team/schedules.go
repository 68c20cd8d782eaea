package team

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"callcenter/internal/bus"
	"callcenter/internal/domain"
	"callcenter/internal/security"
)

// ScheduleItem is one shift as submitted for import. Times are ISO
// timestamps or "HH:MM" on Date.
type ScheduleItem struct {
	Agent      string `json:"agent" yaml:"agent"`
	Date       string `json:"date" yaml:"date"`
	ShiftStart string `json:"shift_start" yaml:"start"`
	ShiftEnd   string `json:"shift_end" yaml:"end"`
	Role       string `json:"role,omitempty" yaml:"role,omitempty"`
	Notes      string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ImportSchedules stores every complete, parseable item and returns how many
// were stored. Other items are skipped.
func (s *Service) ImportSchedules(ctx context.Context, items []ScheduleItem) (int, error) {
	if len(items) == 0 {
		return 0, domain.Invalid("items", "list required")
	}
	var valid []domain.Schedule
	for i, it := range items {
		sc, err := s.toSchedule(it)
		if err != nil {
			s.logger.Debug("schedule item skipped", "index", i, "err", err)
			continue
		}
		valid = append(valid, sc)
	}
	n, err := s.store.InsertSchedules(ctx, valid)
	if err != nil {
		return 0, err
	}
	s.logger.Info("schedules imported", "created", n, "skipped", len(items)-n)
	s.publish(bus.EventSchedulesImported, map[string]any{"created": n, "skipped": len(items) - n})
	return n, nil
}

func (s *Service) toSchedule(it ScheduleItem) (domain.Schedule, error) {
	agent := security.Sanitize(it.Agent)
	if agent == "" || strings.TrimSpace(it.Date) == "" || strings.TrimSpace(it.ShiftStart) == "" || strings.TrimSpace(it.ShiftEnd) == "" {
		return domain.Schedule{}, fmt.Errorf("incomplete item")
	}
	day, err := ParseTime(it.Date, s.loc)
	if err != nil {
		return domain.Schedule{}, err
	}
	start, err := parseClock(day, it.ShiftStart, s.loc)
	if err != nil {
		return domain.Schedule{}, err
	}
	end, err := parseClock(day, it.ShiftEnd, s.loc)
	if err != nil {
		return domain.Schedule{}, err
	}
	// Overnight shift.
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return domain.Schedule{
		Agent:      security.Truncate(agent, domain.MaxAgentLen),
		Date:       day.Format(DateLayout),
		ShiftStart: start,
		ShiftEnd:   end,
		Role:       security.Sanitize(it.Role),
		Notes:      security.Sanitize(it.Notes),
	}, nil
}

// Schedules lists shifts with days in [from, to], which must be
// YYYY-MM-DD when set.
func (s *Service) Schedules(ctx context.Context, from, to, agent string) ([]domain.Schedule, error) {
	for name, v := range map[string]string{"start": from, "end": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, v); err != nil {
			return nil, domain.Invalid(name, "must be YYYY-MM-DD")
		}
	}
	return s.store.ListSchedules(ctx, from, to, strings.TrimSpace(agent))
}

var scheduleCSVHeader = []string{"agent", "date", "shift_start", "shift_end", "role", "notes"}

// ExportSchedulesCSV writes the shifts for [from, to] as CSV with a header
// row. Both bounds are required.
func (s *Service) ExportSchedulesCSV(ctx context.Context, w io.Writer, from, to, agent string) error {
	if from == "" || to == "" {
		return domain.Invalid("", "start and end required")
	}
	rows, err := s.Schedules(ctx, from, to, agent)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(scheduleCSVHeader); err != nil {
		return err
	}
	for _, sc := range rows {
		if err := cw.Write([]string{
			sc.Agent,
			sc.Date,
			sc.ShiftStart.In(s.loc).Format(time.RFC3339),
			sc.ShiftEnd.In(s.loc).Format(time.RFC3339),
			sc.Role,
			sc.Notes,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
