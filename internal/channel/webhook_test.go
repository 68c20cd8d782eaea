package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callcenter/internal/bus"
	"callcenter/internal/domain"
	"callcenter/internal/security"
)

const waWebhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "PNID-1"},
        "messages": [
          {"from": "15551234567", "id": "wamid.in-1", "timestamp": "1714986000", "type": "text", "text": {"body": "Where is my order?"}},
          {"from": "15551234567", "id": "wamid.in-2", "timestamp": "1714986060", "type": "image", "image": {"id": "MEDIA-9", "mime_type": "image/jpeg"}}
        ]
      }
    }]
  }]
}`

const fbWebhookBody = `{
  "object": "page",
  "entry": [{
    "id": "PAGE-1",
    "time": 1714986000000,
    "messaging": [
      {"sender": {"id": "PSID-1"}, "recipient": {"id": "PAGE-1"}, "timestamp": 1714986000000,
       "message": {"mid": "m_1", "text": "hello page"}},
      {"sender": {"id": "PAGE-1"}, "recipient": {"id": "PSID-1"}, "timestamp": 1714986001000,
       "message": {"mid": "m_echo", "text": "our reply", "is_echo": true}},
      {"sender": {"id": "PSID-1"}, "recipient": {"id": "PAGE-1"}, "timestamp": 1714986002000,
       "postback": {"mid": "m_pb", "title": "Talk to agent", "payload": "AGENT"}},
      {"sender": {"id": "PSID-1"}, "recipient": {"id": "PAGE-1"}, "timestamp": 1714986003000,
       "delivery": {"mids": ["m_out_1"], "watermark": 1714986003000}}
    ]
  }]
}`

func (e *testEnv) postWebhook(t *testing.T, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set("X-Hub-Signature-256", security.Sign([]byte(body), testAppSecret))
	}
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookVerify(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
		body  string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"escaped challenge", "hub.verify_token=verify-me&hub.challenge=%3Cb%3E", http.StatusOK, "&lt;b&gt;"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, ""},
		{"missing challenge", "hub.mode=subscribe&hub.verify_token=verify-me", http.StatusBadRequest, ""},
		{"missing token", "hub.mode=subscribe&hub.challenge=1", http.StatusBadRequest, ""},
	}
	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/webhook?"+tt.query, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestWebhookVerify_NoTokenConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *APIGatewayConfig) {
		c.Webhook = NewWebhook(WebhookConfig{Logger: testLogger()})
	})
	rec := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=x&hub.challenge=1", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookReceive_Rejections(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.postWebhook(t, waWebhookBody, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(waWebhookBody))
	req.Header.Set("X-Hub-Signature-256", security.Sign([]byte(waWebhookBody), "other-secret"))
	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad signature status = %d, want 403", rec.Code)
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "{"},
		{"unknown object", `{"object":"instagram","entry":[]}`},
		{"no entries", `{"object":"whatsapp_business_account","entry":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.postWebhook(t, tt.body, true); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}

	big := `{"object":"page","pad":"` + strings.Repeat("x", webhookMaxBodySize) + `"}`
	if rec := env.postWebhook(t, big, true); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized status = %d, want 413", rec.Code)
	}
}

func TestWebhookReceive_WhatsAppIdempotent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postWebhook(t, waWebhookBody, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["recorded"] != float64(2) || out["duplicates"] != float64(0) || out["skipped"] != float64(0) {
		t.Errorf("first delivery = %v", out)
	}

	rec = env.postWebhook(t, waWebhookBody, true)
	out = decode(t, rec)
	if out["recorded"] != float64(0) || out["duplicates"] != float64(2) {
		t.Errorf("redelivery = %v", out)
	}

	key := domain.ConversationKey{Recipient: "15551234567", Platform: domain.PlatformWhatsApp}
	c, err := env.store.GetConversation(context.Background(), key)
	if err != nil || c == nil {
		t.Fatalf("conversation: %v %v", c, err)
	}
	if c.MessageCount != 2 || c.Agent != "Agent1" {
		t.Errorf("conversation = %+v", c)
	}
	if want := time.Unix(1714986060, 0).UTC(); !c.LastMessageAt.Equal(want) {
		t.Errorf("LastMessageAt = %v, want %v", c.LastMessageAt, want)
	}
	if got := env.events.Replay(bus.EventMessageDuplicate, time.Time{}, 0, 0); len(got) != 2 {
		t.Errorf("duplicate events = %d, want 2", len(got))
	}
}

func TestWebhookReceive_ReportsSkipped(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Replace(waWebhookBody, `"text": {"body": "Where is my order?"}`, `"text": {"body": "   "}`, 1)

	rec := env.postWebhook(t, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["recorded"] != float64(1) || out["skipped"] != float64(1) {
		t.Errorf("delivery = %v, want 1 recorded and 1 skipped", out)
	}
}

func TestWebhookReceive_WhatsAppFollowsOwner(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/send", map[string]string{
		"agent": "Agent5", "to": "15551234567", "text": "hi there", "platform": "WhatsApp",
	})

	if rec := env.postWebhook(t, waWebhookBody, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	msgs, err := env.store.ListMessages(context.Background(), domain.MessageFilter{Agent: "Agent5"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("Agent5 messages = %d, want 3", len(msgs))
	}
}

func TestWebhookReceive_Facebook(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postWebhook(t, fbWebhookBody, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["recorded"] != float64(2) {
		t.Errorf("recorded = %v, want 2 (message and postback)", out["recorded"])
	}

	key := domain.ConversationKey{Recipient: "PSID-1", Platform: domain.PlatformFacebook}
	c, err := env.store.GetConversation(context.Background(), key)
	if err != nil || c == nil {
		t.Fatalf("conversation: %v %v", c, err)
	}
	if c.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", c.MessageCount)
	}
}

func TestParseFacebook(t *testing.T) {
	events, err := ParseFacebook([]byte(fbWebhookBody))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (echo skipped)", len(events))
	}
	msg, ok := events[0].(domain.FacebookMessage)
	if !ok || msg.MID != "m_1" || msg.Text != "hello page" || msg.SenderID != "PSID-1" {
		t.Errorf("message = %#v", events[0])
	}
	if !msg.Timestamp.Equal(time.UnixMilli(1714986000000)) {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
	pb, ok := events[1].(domain.FacebookPostback)
	if !ok || pb.Payload != "AGENT" || pb.Title != "Talk to agent" {
		t.Errorf("postback = %#v", events[1])
	}
	st, ok := events[2].(domain.DeliveryStatus)
	if !ok || st.PlatformMessageID != "m_out_1" || st.Status != domain.StatusDelivered {
		t.Errorf("delivery = %#v", events[2])
	}
}

func TestParseFacebook_Invalid(t *testing.T) {
	for _, body := range []string{"", "[]", `{"object":"page"}`} {
		if _, err := ParseFacebook([]byte(body)); !domain.IsValidation(err) {
			t.Errorf("ParseFacebook(%q) err = %v, want validation", body, err)
		}
	}
}
