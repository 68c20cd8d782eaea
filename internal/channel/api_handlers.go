package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"callcenter/internal/bus"
	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/reporting"
	"callcenter/internal/team"
)

func (g *APIGateway) handleIndex(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"service": "callcenter",
		"version": g.cfg.Version,
		"webhook": g.cfg.WebhookPath,
		"health":  "/health",
	})
}

func (g *APIGateway) handleHealth(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, db, code := "healthy", "connected", http.StatusOK
	if err := g.cfg.Store.Ping(ctx); err != nil {
		g.logger.Warn("health check failed", "err", err)
		status, db, code = "unhealthy", "disconnected", http.StatusServiceUnavailable
	}
	writeJSON(rw, code, map[string]any{
		"status":    status,
		"database":  db,
		"version":   g.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Messages ---

func (g *APIGateway) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req ingest.SendRequest
	if err := decodeBody(rw, r, &req); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	res, err := g.cfg.Outbound.Send(r.Context(), req)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	m := res.Message
	if g.cfg.Events != nil {
		g.cfg.Events.Publish(bus.EventMessageSent, "api", map[string]any{
			"agent":      m.Agent,
			"platform":   string(m.Platform),
			"recipient":  m.Recipient,
			"message_id": m.PlatformMessageID,
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":     "ok",
		"message_id": m.PlatformMessageID,
		"id":         m.ID,
		"initials":   m.Initials(),
	})
}

func (g *APIGateway) handleListMessages(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.MessageFilter{
		Agent:     strings.TrimSpace(q.Get("agent")),
		Recipient: strings.TrimSpace(q.Get("recipient")),
		Limit:     intParam(q.Get("limit")),
		Offset:    intParam(q.Get("offset")),
	}
	if p := q.Get("platform"); p != "" {
		platform, ok := domain.ParsePlatform(p)
		if !ok {
			g.writeErr(rw, r, domain.Invalid("platform", "must be WhatsApp or Facebook"))
			return
		}
		f.Platform = platform
	}
	switch q.Get("direction") {
	case "":
	case "incoming":
		in := true
		f.Incoming = &in
	case "outgoing":
		out := false
		f.Incoming = &out
	default:
		g.writeErr(rw, r, domain.Invalid("direction", "must be incoming or outgoing"))
		return
	}
	var err error
	if f.Start, err = g.timeParam(q.Get("start")); err != nil {
		g.writeErr(rw, r, domain.Invalid("start", err.Error()))
		return
	}
	if f.End, err = g.timeParam(q.Get("end")); err != nil {
		g.writeErr(rw, r, domain.Invalid("end", err.Error()))
		return
	}

	msgs, err := g.cfg.Store.ListMessages(r.Context(), f)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": msgs, "count": len(msgs)})
}

func (g *APIGateway) handleSearchMessages(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := strings.TrimSpace(q.Get("q"))
	if term == "" {
		g.writeErr(rw, r, domain.Invalid("q", "is required"))
		return
	}
	var platform domain.Platform
	if p := q.Get("platform"); p != "" {
		parsed, ok := domain.ParsePlatform(p)
		if !ok {
			g.writeErr(rw, r, domain.Invalid("platform", "must be WhatsApp or Facebook"))
			return
		}
		platform = parsed
	}
	msgs, err := g.cfg.Store.SearchMessages(r.Context(), term, strings.TrimSpace(q.Get("agent")), platform, intParam(q.Get("limit")))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": msgs, "count": len(msgs)})
}

var validStatuses = map[string]bool{
	domain.StatusReceived:  true,
	domain.StatusSent:      true,
	domain.StatusDelivered: true,
	domain.StatusRead:      true,
	domain.StatusFailed:    true,
}

func (g *APIGateway) handleUpdateStatus(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(rw, r, &body); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if !validStatuses[status] {
		g.writeErr(rw, r, domain.Invalid("status", "must be received, sent, delivered, read or failed"))
		return
	}
	id := chi.URLParam(r, "messageID")
	ok, err := g.cfg.Store.UpdateMessageStatus(r.Context(), id, status)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	if !ok {
		g.writeErr(rw, r, domain.ErrNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "message_id": id, "new_status": status})
}

// --- Conversations ---

func (g *APIGateway) handleListConversations(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	convs, err := g.cfg.Store.ListActiveConversations(r.Context(), intParam(q.Get("limit")), intParam(q.Get("offset")))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": convs, "count": len(convs)})
}

func conversationKey(r *http.Request) (domain.ConversationKey, error) {
	p, ok := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if !ok {
		return domain.ConversationKey{}, domain.Invalid("platform", "must be WhatsApp or Facebook")
	}
	key := domain.ConversationKey{Recipient: chi.URLParam(r, "recipient"), Platform: p}.Canonical()
	if key.Recipient == "" {
		return domain.ConversationKey{}, domain.Invalid("recipient", "is required")
	}
	return key, nil
}

func (g *APIGateway) handleGetConversation(rw http.ResponseWriter, r *http.Request) {
	key, err := conversationKey(r)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	c, err := g.cfg.Store.GetConversation(r.Context(), key)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	if c == nil {
		g.writeErr(rw, r, domain.ErrNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, c)
}

func (g *APIGateway) handleResolveAgent(rw http.ResponseWriter, r *http.Request) {
	key, err := conversationKey(r)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	agent, err := g.cfg.Router.ResolveIncomingAgent(r.Context(), key)
	degraded := domain.IsRoutingDegraded(err)
	if err != nil && !degraded {
		g.writeErr(rw, r, err)
		return
	}
	if degraded {
		g.logger.Warn("routing degraded", "key", key.String(), "err", err)
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"platform":  key.Platform,
		"recipient": key.Recipient,
		"agent":     agent,
		"degraded":  degraded,
	})
}

func (g *APIGateway) handleSetActive(rw http.ResponseWriter, r *http.Request) {
	key, err := conversationKey(r)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(rw, r, &body); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	if body.Active == nil {
		g.writeErr(rw, r, domain.Invalid("active", "is required"))
		return
	}
	if err := g.cfg.Conversations.SetActive(r.Context(), key, *body.Active); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	if g.cfg.Events != nil {
		g.cfg.Events.Publish(bus.EventConversationState, "api", map[string]any{
			"platform":  string(key.Platform),
			"recipient": key.Recipient,
			"active":    *body.Active,
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "active": *body.Active})
}

// --- Reports ---

func (g *APIGateway) handleDailyReport(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := g.cfg.Reports.DailyReport(r.Context(), q.Get("agent"), q.Get("date"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, rep)
}

func (g *APIGateway) handleDailyWorkbook(sheet string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		agent := strings.TrimSpace(q.Get("agent"))
		start, _, err := g.cfg.Reports.DayBounds(q.Get("date"))
		if err == nil && agent == "" {
			err = domain.Invalid("agent", "is required")
		}
		if err != nil {
			g.writeErr(rw, r, err)
			return
		}

		var buf bytes.Buffer
		if err := g.cfg.Reports.DailyWorkbook(r.Context(), &buf, agent, start.Format(team.DateLayout), sheet); err != nil {
			g.writeErr(rw, r, err)
			return
		}
		name := reporting.WorkbookName(agent, sheet, start)
		rw.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		rw.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		rw.WriteHeader(http.StatusOK)
		rw.Write(buf.Bytes())
	}
}

func (g *APIGateway) handleReplies(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data, err := g.cfg.Reports.Replies(r.Context(), q.Get("start"), q.Get("end"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": data})
}

func (g *APIGateway) handleStatistics(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := g.cfg.Reports.Statistics(r.Context(), q.Get("start"), q.Get("end"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (g *APIGateway) handlePerformance(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := g.cfg.Reports.Performance(r.Context(), q.Get("agent"), q.Get("start"), q.Get("end"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

// --- Team ---

func (g *APIGateway) handleListAgents(rw http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	agents, err := g.cfg.Team.Agents(r.Context(), activeOnly)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": agents})
}

func (g *APIGateway) handleAddAgent(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Email  string `json:"email"`
		Phone  string `json:"phone"`
		Active *bool  `json:"is_active"`
	}
	if err := decodeBody(rw, r, &body); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	a := domain.Agent{Name: body.Name, Email: body.Email, Phone: body.Phone, Active: true}
	if body.Active != nil {
		a.Active = *body.Active
	}
	saved, err := g.cfg.Team.AddAgent(r.Context(), a)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, saved)
}

func (g *APIGateway) handleListSchedules(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := g.cfg.Team.Schedules(r.Context(), q.Get("start"), q.Get("end"), q.Get("agent"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": rows})
}

func (g *APIGateway) handleAvailability(rw http.ResponseWriter, r *http.Request) {
	var names []string
	if v := r.URL.Query().Get("agents"); v != "" {
		names = strings.Split(v, ",")
	}
	data, err := g.cfg.Reports.Availability(r.Context(), names)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": data})
}

// handleImportSchedules accepts {"items": [...]} JSON or a YAML roster.
func (g *APIGateway) handleImportSchedules(rw http.ResponseWriter, r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "yaml") {
		res, err := g.cfg.Team.ImportRoster(r.Context(), io.LimitReader(r.Body, apiGatewayMaxBodySize))
		if err != nil {
			g.writeErr(rw, r, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "created": res.Shifts, "agents": res.Agents})
		return
	}

	var body struct {
		Items []team.ScheduleItem `json:"items"`
	}
	if err := decodeBody(rw, r, &body); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	n, err := g.cfg.Team.ImportSchedules(r.Context(), body.Items)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "created": n})
}

func (g *APIGateway) handleExportSchedules(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var buf bytes.Buffer
	if err := g.cfg.Team.ExportSchedulesCSV(r.Context(), &buf, q.Get("start"), q.Get("end"), q.Get("agent")); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	rw.Header().Set("Content-Type", "text/csv")
	rw.WriteHeader(http.StatusOK)
	rw.Write(buf.Bytes())
}

func (g *APIGateway) handleListLeaves(rw http.ResponseWriter, r *http.Request) {
	leaves, err := g.cfg.Team.Leaves(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": leaves})
}

func (g *APIGateway) handleCreateLeave(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent     string `json:"agent"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Reason    string `json:"reason"`
		Status    string `json:"status"`
	}
	if err := decodeBody(rw, r, &body); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	if strings.TrimSpace(body.Agent) == "" || body.StartDate == "" || body.EndDate == "" {
		g.writeErr(rw, r, domain.Invalid("", "agent, start_date, end_date required"))
		return
	}
	loc := g.cfg.Team.Location()
	start, err := team.ParseTime(body.StartDate, loc)
	if err != nil {
		g.writeErr(rw, r, domain.Invalid("start_date", err.Error()))
		return
	}
	end, err := team.ParseTime(body.EndDate, loc)
	if err != nil {
		g.writeErr(rw, r, domain.Invalid("end_date", err.Error()))
		return
	}

	l, err := g.cfg.Team.CreateLeave(r.Context(), team.LeaveRequest{
		Agent:  body.Agent,
		Start:  start,
		End:    end,
		Reason: body.Reason,
		Status: body.Status,
	})
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "leave": l})
}

func (g *APIGateway) handleListEscalations(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := g.cfg.Team.Escalations(r.Context(), q.Get("status"), intParam(q.Get("limit")))
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": list})
}

func (g *APIGateway) handleCreateEscalation(rw http.ResponseWriter, r *http.Request) {
	var req team.EscalationRequest
	if err := decodeBody(rw, r, &req); err != nil {
		g.writeErr(rw, r, err)
		return
	}
	e, err := g.cfg.Team.CreateEscalation(r.Context(), req)
	if err != nil {
		g.writeErr(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusCreated, e)
}

// --- Events ---

// handleEvents returns recent bus history for dashboard polling. Clients
// pass the last seq they saw as after.
func (g *APIGateway) handleEvents(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := g.timeParam(q.Get("since"))
	if err != nil {
		g.writeErr(rw, r, domain.Invalid("since", err.Error()))
		return
	}
	var after uint64
	if v := q.Get("after"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			g.writeErr(rw, r, domain.Invalid("after", "must be a sequence number"))
			return
		}
	}
	var events []bus.Event
	if g.cfg.Events != nil {
		events = g.cfg.Events.Replay(q.Get("type"), since, after, intParam(q.Get("limit")))
	}
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"data": events, "count": len(events)})
}

// --- Params ---

func intParam(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// timeParam parses an optional RFC 3339 or ISO date/time.
func (g *APIGateway) timeParam(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	loc := time.UTC
	if g.cfg.Team != nil {
		loc = g.cfg.Team.Location()
	}
	t, err := team.ParseTime(s, loc)
	if err != nil {
		return time.Time{}, errors.New("must be an ISO date or RFC 3339 time")
	}
	return t, nil
}
