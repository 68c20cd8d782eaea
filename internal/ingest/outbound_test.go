package ingest

import (
	"context"
	"errors"
	"testing"

	"callcenter/internal/domain"
)

type fakeSender struct {
	platform domain.Platform
	err      error
	sentTo   string
	sentText string
}

func (f *fakeSender) Platform() domain.Platform { return f.platform }
func (f *fakeSender) Provider() string          { return "fake" }

func (f *fakeSender) Send(_ context.Context, to, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sentTo, f.sentText = to, text
	return "wamid.sent-1", nil
}

func TestOutbound_SendRecordsWithInitials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wa := &fakeSender{platform: domain.PlatformWhatsApp}
	out := NewOutbound(h.recorder, testLogger(), wa)

	res, err := out.Send(ctx, SendRequest{Agent: "Agent2", To: "+1987654321", Text: "^bm Your order shipped"})
	if err != nil {
		t.Fatal(err)
	}
	if wa.sentText != "Your order shipped" {
		t.Errorf("sent text %q", wa.sentText)
	}
	m := res.Message
	if m.Incoming || m.Status != domain.StatusSent || m.PlatformMessageID != "wamid.sent-1" {
		t.Errorf("unexpected recorded message %+v", m)
	}
	if m.Initials() != "BM" || m.ExtraData["provider"] != "fake" {
		t.Errorf("extra_data = %v", m.ExtraData)
	}

	agent, _ := h.router.ResolveIncomingAgent(ctx, domain.ConversationKey{Recipient: "1987654321", Platform: domain.PlatformWhatsApp})
	if agent != "Agent2" {
		t.Errorf("reply did not take ownership: %q", agent)
	}
}

func TestOutbound_Validation(t *testing.T) {
	h := newHarness(t)
	out := NewOutbound(h.recorder, testLogger(), &fakeSender{platform: domain.PlatformWhatsApp})

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"missing agent", SendRequest{To: "+1987654321", Text: "x"}},
		{"missing text", SendRequest{Agent: "A", To: "+1987654321"}},
		{"bad phone", SendRequest{Agent: "A", To: "012", Text: "x"}},
		{"only initials", SendRequest{Agent: "A", To: "+1987654321", Text: "^BM"}},
		{"unconfigured platform", SendRequest{Agent: "A", To: "psid", Text: "x", Platform: domain.PlatformFacebook}},
		{"unknown platform", SendRequest{Agent: "A", To: "x", Text: "x", Platform: "sms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := out.Send(context.Background(), tt.req); !domain.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestOutbound_UpstreamFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	upstream := &domain.UpstreamError{Platform: domain.PlatformWhatsApp, Status: 400, Err: errors.New("bad token")}
	out := NewOutbound(h.recorder, testLogger(), &fakeSender{platform: domain.PlatformWhatsApp, err: upstream})

	_, err := out.Send(ctx, SendRequest{Agent: "A", To: "+1987654321", Text: "hi"})
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	msgs, _ := h.store.ListMessages(ctx, domain.MessageFilter{})
	if len(msgs) != 0 {
		t.Errorf("expected no rows, got %d", len(msgs))
	}
}
