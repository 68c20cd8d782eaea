package team

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"callcenter/internal/domain"
)

// Roster is the YAML file supervisors keep the team and its shifts in:
//
//	agents:
//	  - name: Agent1
//	    email: a1@example.com
//	shifts:
//	  - agent: Agent1
//	    date: 2024-05-06
//	    start: "09:00"
//	    end: "17:00"
type Roster struct {
	Agents []RosterAgent  `yaml:"agents"`
	Shifts []ScheduleItem `yaml:"shifts"`
}

type RosterAgent struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email,omitempty"`
	Phone    string `yaml:"phone,omitempty"`
	Inactive bool   `yaml:"inactive,omitempty"`
}

// RosterResult reports what an import wrote.
type RosterResult struct {
	Agents int `json:"agents"`
	Shifts int `json:"shifts"`
}

// ParseRoster decodes a roster document.
func ParseRoster(r io.Reader) (*Roster, error) {
	var roster Roster
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&roster); err != nil {
		if errors.Is(err, io.EOF) {
			return &roster, nil
		}
		return nil, domain.Invalid("roster", fmt.Sprintf("parse: %v", err))
	}
	return &roster, nil
}

// ImportRoster upserts the roster's agents and imports its shifts.
func (s *Service) ImportRoster(ctx context.Context, r io.Reader) (*RosterResult, error) {
	roster, err := ParseRoster(r)
	if err != nil {
		return nil, err
	}
	res := &RosterResult{}
	for _, a := range roster.Agents {
		if _, err := s.AddAgent(ctx, domain.Agent{
			Name:   a.Name,
			Email:  a.Email,
			Phone:  a.Phone,
			Active: !a.Inactive,
		}); err != nil {
			if domain.IsValidation(err) {
				s.logger.Warn("roster agent skipped", "name", a.Name, "err", err)
				continue
			}
			return res, err
		}
		res.Agents++
	}
	if len(roster.Shifts) > 0 {
		n, err := s.ImportSchedules(ctx, roster.Shifts)
		if err != nil {
			return res, err
		}
		res.Shifts = n
	}
	return res, nil
}
