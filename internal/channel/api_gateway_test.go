package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"callcenter/internal/bus"
	"callcenter/internal/conversation"
	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/reporting"
	"callcenter/internal/store"
	"callcenter/internal/team"
)

const testAppSecret = "s3cret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	platform domain.Platform
	err      error
	to       string
}

func (s *stubSender) Platform() domain.Platform { return s.platform }
func (s *stubSender) Provider() string          { return "stub" }

func (s *stubSender) Send(_ context.Context, to, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.to = to
	return "wamid.out-1", nil
}

type testEnv struct {
	gw     *APIGateway
	store  *store.Store
	events *bus.EventBus
	sender *stubSender
}

type envOption func(*APIGatewayConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := testLogger()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "gw.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	events := bus.NewEventBus(0, logger)
	agg := conversation.NewAggregator(s, logger)
	router := conversation.NewRouter(s, "Agent1", logger)
	recorder := ingest.NewRecorder(s, agg, conversation.NewKeyLock(), events, logger)
	sender := &stubSender{platform: domain.PlatformWhatsApp}

	cfg := APIGatewayConfig{
		Version: "test",
		Webhook: NewWebhook(WebhookConfig{
			VerifyToken: "verify-me",
			AppSecret:   testAppSecret,
			Inbound:     ingest.NewInbound(router, recorder, s, events, logger),
			Logger:      logger,
		}),
		MetricsPath:   "/metrics",
		Outbound:      ingest.NewOutbound(recorder, logger, sender),
		Store:         s,
		Conversations: agg,
		Router:        router,
		Reports:       reporting.NewEngine(s, time.UTC, logger),
		Team:          team.NewService(s, events, team.Config{Location: time.UTC}, logger),
		Events:        events,
		Logger:        logger,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &testEnv{gw: NewAPIGateway(cfg), store: s, events: events, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "healthy" || out["database"] != "connected" {
		t.Errorf("health = %v", out)
	}

	env.store.Close()
	rec = env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed store status = %d", rec.Code)
	}
	if decode(t, rec)["database"] != "disconnected" {
		t.Errorf("expected disconnected")
	}
}

func TestSend_RecordsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/send", map[string]string{
		"agent":    "Agent2",
		"to":       "15551234567",
		"text":     "^bm Your order shipped",
		"platform": "WhatsApp",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["message_id"] != "wamid.out-1" || out["initials"] != "BM" {
		t.Errorf("response = %v", out)
	}
	if env.sender.to != "15551234567" {
		t.Errorf("sender got to=%q", env.sender.to)
	}
	if got := env.events.Replay(bus.EventMessageSent, time.Time{}, 0, 0); len(got) != 1 {
		t.Errorf("sent events = %d, want 1", len(got))
	}

	rec = env.do(t, http.MethodGet, "/conversations/whatsapp/15551234567/agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	if got := decode(t, rec)["agent"]; got != "Agent2" {
		t.Errorf("agent = %v, want Agent2", got)
	}
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing text", map[string]string{"agent": "A", "to": "1", "platform": "WhatsApp"}, http.StatusBadRequest},
		{"unknown platform", map[string]string{"agent": "A", "to": "1", "text": "x", "platform": "Telegram"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if rec := env.do(t, http.MethodPost, "/send", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.sender.err = &domain.UpstreamError{Platform: domain.PlatformWhatsApp, Status: 400, Err: io.EOF}
		rec := env.do(t, http.MethodPost, "/send", map[string]string{
			"agent": "Agent1", "to": "1555", "text": "hi", "platform": "WhatsApp",
		})
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d", rec.Code)
		}
		if decode(t, rec)["error"] != "send_failed" {
			t.Errorf("body = %s", rec.Body.String())
		}
	})
}

func TestConversations_GetAndSetActive(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/send", map[string]string{
		"agent": "Agent3", "to": "1555", "text": "hello", "platform": "WhatsApp",
	})

	rec := env.do(t, http.MethodGet, "/conversations/WhatsApp/1555", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decode(t, rec)["agent"]; got != "Agent3" {
		t.Errorf("agent = %v", got)
	}

	rec = env.do(t, http.MethodPut, "/conversations/WhatsApp/1555/active", map[string]bool{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("set active status = %d %s", rec.Code, rec.Body.String())
	}
	if got := env.events.Replay(bus.EventConversationState, time.Time{}, 0, 0); len(got) != 1 {
		t.Errorf("state events = %d", len(got))
	}

	rec = env.do(t, http.MethodGet, "/conversations", nil)
	if got := decode(t, rec)["count"]; got != float64(0) {
		t.Errorf("active conversations = %v, want 0", got)
	}

	if rec := env.do(t, http.MethodGet, "/conversations/WhatsApp/nobody", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/conversations/WhatsApp/nobody/active", map[string]bool{"active": true}); rec.Code != http.StatusNotFound {
		t.Errorf("missing set active status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/conversations/Skype/1555", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad platform status = %d", rec.Code)
	}
}

func TestResolveAgent_DefaultsForNewContact(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/conversations/facebook/psid-1/agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["agent"] != "Agent1" || out["degraded"] != false {
		t.Errorf("resolve = %v", out)
	}
}

func TestMessages_ListSearchAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/send", map[string]string{
		"agent": "Agent1", "to": "1555", "text": "refund approved", "platform": "WhatsApp",
	})

	rec := env.do(t, http.MethodGet, "/messages?agent=Agent1&direction=outgoing", nil)
	if got := decode(t, rec)["count"]; got != float64(1) {
		t.Errorf("outgoing count = %v", got)
	}
	rec = env.do(t, http.MethodGet, "/messages?direction=incoming", nil)
	if got := decode(t, rec)["count"]; got != float64(0) {
		t.Errorf("incoming count = %v", got)
	}
	if rec := env.do(t, http.MethodGet, "/messages?direction=sideways", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad direction status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/messages?start=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad start status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/messages/search?q=refund", nil)
	if got := decode(t, rec)["count"]; got != float64(1) {
		t.Errorf("search count = %v", got)
	}
	if rec := env.do(t, http.MethodGet, "/messages/search", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty search status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/messages/wamid.out-1/status", map[string]string{"status": "READ"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPut, "/messages/wamid.unknown/status", map[string]string{"status": "read"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/messages/wamid.out-1/status", map[string]string{"status": "lost"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status value = %d", rec.Code)
	}
}

func TestReports_DailyAndWorkbook(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/send", map[string]string{
		"agent": "Agent1", "to": "1555", "text": "^jd hi", "platform": "WhatsApp",
	})
	today := time.Now().UTC().Format(team.DateLayout)

	rec := env.do(t, http.MethodGet, "/reports/daily?agent=Agent1&date="+today, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("daily status = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/reports/daily?agent=Agent1&date=06/05/2024", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/reports/agent-daily-excel?agent=Agent1&date="+today, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("excel status = %d %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "agent_daily_Agent1_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(reporting.SheetSummary, "C2"); v != "1" {
		t.Errorf("MessagesHandled = %q, want 1", v)
	}

	if rec := env.do(t, http.MethodGet, "/reports/agent-handled-daily-excel", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing agent status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/reports/statistics?start="+today+"&end="+today, nil); rec.Code != http.StatusOK {
		t.Errorf("statistics status = %d", rec.Code)
	}
}

func TestTeam_LeaveAndEscalation(t *testing.T) {
	env := newTestEnv(t)

	soon := time.Now().UTC().AddDate(0, 0, 1).Format(team.DateLayout)
	rec := env.do(t, http.MethodPost, "/team/leaves", map[string]string{
		"agent": "Agent1", "start_date": soon, "end_date": soon + "T18:00:00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short-notice leave status = %d", rec.Code)
	}

	start := time.Now().UTC().AddDate(0, 0, 10).Format(team.DateLayout)
	end := time.Now().UTC().AddDate(0, 0, 12).Format(team.DateLayout)
	rec = env.do(t, http.MethodPost, "/team/leaves", map[string]string{
		"agent": "Agent1", "start_date": start, "end_date": end, "reason": "holiday",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/team/leaves?agent=Agent1", nil)
	if data, _ := decode(t, rec)["data"].([]any); len(data) != 1 {
		t.Errorf("leaves = %v", data)
	}

	rec = env.do(t, http.MethodPost, "/team/escalations", map[string]string{
		"agent": "Agent1", "reason": "customer threatens chargeback", "priority": "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("escalation status = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["status"]; got != "open" {
		t.Errorf("escalation status field = %v", got)
	}
}

func TestTeam_ImportSchedulesYAML(t *testing.T) {
	env := newTestEnv(t)
	doc := `agents:
  - name: Agent1
    email: agent1@example.com
shifts:
  - agent: Agent1
    date: 2024-05-06
    start: "09:00"
    end: "17:00"
`
	req := httptest.NewRequest(http.MethodPost, "/team/schedules/import", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["created"] != float64(1) || out["agents"] != float64(1) {
		t.Errorf("import = %v", out)
	}

	rec = env.do(t, http.MethodGet, "/team/schedules/export?start=2024-05-01&end=2024-05-31", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("csv lines = %d, want 2", len(lines))
	}
}

func TestEvents_Replay(t *testing.T) {
	env := newTestEnv(t)
	env.events.Publish(bus.EventLeaveCreated, "test", nil)
	last := env.events.Publish(bus.EventEscalationCreated, "test", nil)

	rec := env.do(t, http.MethodGet, "/events", nil)
	if got := decode(t, rec)["count"]; got != float64(2) {
		t.Errorf("count = %v", got)
	}
	rec = env.do(t, http.MethodGet, "/events?type="+bus.EventLeaveCreated, nil)
	if got := decode(t, rec)["count"]; got != float64(1) {
		t.Errorf("by type = %v", got)
	}
	rec = env.do(t, http.MethodGet, "/events?after="+strconv.FormatUint(last.Seq, 10), nil)
	if got := decode(t, rec)["count"]; got != float64(0) {
		t.Errorf("after last = %v", got)
	}
	if rec := env.do(t, http.MethodGet, "/events?after=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad after status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *APIGatewayConfig) { c.RateLimit = NewRateLimiter(60, 2) })
	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodGet, "/conversations", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodGet, "/conversations", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// health is outside the limited group
	if rec := env.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["error"] != "not found" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
