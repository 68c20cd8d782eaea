package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callcenter/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cc.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// record inserts one message and touches its conversation in one unit of work.
func record(t *testing.T, s *Store, m domain.Message) (*domain.Message, *domain.Conversation) {
	t.Helper()
	ctx := context.Background()
	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer uow.Rollback()

	inserted, err := uow.InsertMessage(ctx, &m)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if !inserted {
		t.Fatalf("InsertMessage: unexpected duplicate for %q", m.PlatformMessageID)
	}
	c, err := uow.UpsertConversation(ctx, domain.ConversationKey{Recipient: m.Recipient, Platform: m.Platform}, m.Agent, m.Timestamp)
	if err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
	return &m, c
}

func msg(agent, recipient string, platform domain.Platform, incoming bool, at time.Time) domain.Message {
	return domain.Message{
		Agent:       agent,
		Platform:    platform,
		Recipient:   recipient,
		Content:     "hello",
		MessageType: domain.TypeText,
		Incoming:    incoming,
		Status:      domain.StatusSent,
		Timestamp:   at,
	}
}

var base = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func TestInsertMessage_DuplicatePlatformID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := msg("Agent1", "+15550001", domain.PlatformWhatsApp, true, base)
	m.PlatformMessageID = "wamid.1"
	m.ExtraData = map[string]any{"phone_number_id": "123"}
	stored, _ := record(t, s, m)
	if stored.ID == 0 {
		t.Fatal("expected an id")
	}

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer uow.Rollback()

	dup := msg("Agent2", "+15550001", domain.PlatformWhatsApp, true, base.Add(time.Minute))
	dup.PlatformMessageID = "wamid.1"
	inserted, err := uow.InsertMessage(ctx, &dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate platform id should not insert")
	}

	got, err := uow.MessageByPlatformID(ctx, "wamid.1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != stored.ID || got.Agent != "Agent1" {
		t.Errorf("expected the original row back, got %+v", got)
	}
	if got.ExtraData["phone_number_id"] != "123" {
		t.Errorf("extra_data not preserved: %v", got.ExtraData)
	}
	if !got.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, base)
	}
}

func TestInsertMessage_EmptyPlatformIDsDoNotCollide(t *testing.T) {
	s := testStore(t)

	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, false, base))
	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, false, base))

	msgs, err := s.ListMessages(context.Background(), domain.MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestUpsertConversation_CountsAndKeepsNewestTimestamp(t *testing.T) {
	s := testStore(t)

	_, c := record(t, s, msg("Agent1", "+100", domain.PlatformWhatsApp, true, base))
	if c.MessageCount != 1 || c.Agent != "Agent1" || !c.Active {
		t.Fatalf("unexpected first conversation: %+v", c)
	}

	_, c = record(t, s, msg("Agent7", "+100", domain.PlatformWhatsApp, false, base.Add(time.Hour)))
	if c.MessageCount != 2 || c.Agent != "Agent7" {
		t.Errorf("unexpected second conversation: %+v", c)
	}

	// An older, late-arriving message must not move last_message_at back.
	_, c = record(t, s, msg("Agent7", "+100", domain.PlatformWhatsApp, true, base.Add(-time.Hour)))
	if c.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", c.MessageCount)
	}
	if !c.LastMessageAt.Equal(base.Add(time.Hour)) {
		t.Errorf("last_message_at = %v, want %v", c.LastMessageAt, base.Add(time.Hour))
	}
}

func TestUpsertConversation_PlatformsIndependent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record(t, s, msg("Agent3", "+200", domain.PlatformWhatsApp, false, base))

	fb, err := s.GetConversation(ctx, domain.ConversationKey{Recipient: "+200", Platform: domain.PlatformFacebook})
	if err != nil {
		t.Fatal(err)
	}
	if fb != nil {
		t.Errorf("expected no Facebook conversation, got %+v", fb)
	}
}

func TestRollbackDiscardsBoth(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	m := msg("Agent1", "+300", domain.PlatformFacebook, true, base)
	if _, err := uow.InsertMessage(ctx, &m); err != nil {
		t.Fatal(err)
	}
	if _, err := uow.UpsertConversation(ctx, domain.ConversationKey{Recipient: "+300", Platform: domain.PlatformFacebook}, "Agent1", base); err != nil {
		t.Fatal(err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.ListMessages(ctx, domain.MessageFilter{})
	if len(msgs) != 0 {
		t.Errorf("expected no messages after rollback, got %d", len(msgs))
	}
	c, _ := s.GetConversation(ctx, domain.ConversationKey{Recipient: "+300", Platform: domain.PlatformFacebook})
	if c != nil {
		t.Errorf("expected no conversation after rollback, got %+v", c)
	}
}

func TestListMessages_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, true, base))
	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, false, base.Add(time.Minute)))
	record(t, s, msg("Agent2", "+2", domain.PlatformFacebook, true, base.Add(2*time.Minute)))

	incoming := true
	tests := []struct {
		name   string
		filter domain.MessageFilter
		want   int
	}{
		{"all", domain.MessageFilter{}, 3},
		{"agent", domain.MessageFilter{Agent: "Agent1"}, 2},
		{"platform", domain.MessageFilter{Platform: domain.PlatformFacebook}, 1},
		{"incoming", domain.MessageFilter{Incoming: &incoming}, 2},
		{"range", domain.MessageFilter{Start: base.Add(time.Minute), End: base.Add(time.Minute)}, 1},
		{"limit", domain.MessageFilter{Limit: 1}, 1},
		{"offset", domain.MessageFilter{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMessages(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d messages, want %d", len(got), tt.want)
			}
		})
	}

	all, _ := s.ListMessages(ctx, domain.MessageFilter{})
	if all[0].Agent != "Agent2" {
		t.Errorf("expected newest first, got %s", all[0].Agent)
	}
}

func TestSearchMessages_CaseInsensitive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := msg("Agent1", "+1", domain.PlatformWhatsApp, true, base)
	m.Content = "Where is my ORDER?"
	record(t, s, m)
	record(t, s, msg("Agent2", "+2", domain.PlatformWhatsApp, true, base))

	got, err := s.SearchMessages(ctx, "order", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Agent != "Agent1" {
		t.Errorf("unexpected search result: %+v", got)
	}

	got, _ = s.SearchMessages(ctx, "agent", "Agent2", "", 0)
	if len(got) != 1 {
		t.Errorf("expected agent filter to narrow to 1, got %d", len(got))
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := msg("Agent1", "+1", domain.PlatformWhatsApp, false, base)
	m.PlatformMessageID = "wamid.out"
	record(t, s, m)

	ok, err := s.UpdateMessageStatus(ctx, "wamid.out", domain.StatusDelivered)
	if err != nil || !ok {
		t.Fatalf("UpdateMessageStatus = %v, %v", ok, err)
	}
	ok, _ = s.UpdateMessageStatus(ctx, "wamid.missing", domain.StatusRead)
	if ok {
		t.Error("expected false for unknown id")
	}

	got, _ := s.ListMessages(ctx, domain.MessageFilter{})
	if got[0].Status != domain.StatusDelivered {
		t.Errorf("status = %q", got[0].Status)
	}
}

func TestConversationActiveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, false, base))
	record(t, s, msg("Agent1", "+2", domain.PlatformWhatsApp, false, base.Add(time.Hour)))
	record(t, s, msg("Agent2", "+3", domain.PlatformWhatsApp, false, base))

	owned, last, err := s.AgentLoad(ctx, "Agent1")
	if err != nil {
		t.Fatal(err)
	}
	if owned != 2 || !last.Equal(base.Add(time.Hour)) {
		t.Errorf("AgentLoad = %d, %v", owned, last)
	}

	ok, err := s.SetConversationActive(ctx, domain.ConversationKey{Recipient: "+2", Platform: domain.PlatformWhatsApp}, false)
	if err != nil || !ok {
		t.Fatalf("SetConversationActive = %v, %v", ok, err)
	}
	owned, last, _ = s.AgentLoad(ctx, "Agent1")
	if owned != 1 || !last.Equal(base) {
		t.Errorf("after deactivate AgentLoad = %d, %v", owned, last)
	}

	active, _ := s.ListActiveConversations(ctx, 0, 0)
	if len(active) != 2 {
		t.Errorf("expected 2 active conversations, got %d", len(active))
	}

	owned, last, _ = s.AgentLoad(ctx, "Nobody")
	if owned != 0 || !last.IsZero() {
		t.Errorf("expected empty load, got %d, %v", owned, last)
	}
}

func TestMessageStatsAndPerformance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, true, base))
	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, false, base.Add(time.Minute)))
	record(t, s, msg("Agent1", "+2", domain.PlatformFacebook, false, base.Add(2*time.Hour)))
	record(t, s, msg("Agent2", "+3", domain.PlatformWhatsApp, true, base))

	st, err := s.MessageStats(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 {
		t.Errorf("total = %d", st.Total)
	}
	if st.Platforms["WhatsApp"] != 3 || st.Platforms["Facebook"] != 1 {
		t.Errorf("platforms = %v", st.Platforms)
	}
	if st.Direction["incoming"] != 2 || st.Direction["outgoing"] != 2 {
		t.Errorf("direction = %v", st.Direction)
	}
	if st.Hourly[9] != 3 || st.Hourly[11] != 1 {
		t.Errorf("hourly = %v", st.Hourly)
	}
	if len(st.TopRecipients) == 0 || st.TopRecipients[0].Recipient != "+1" || st.TopRecipients[0].Count != 2 {
		t.Errorf("top recipients = %v", st.TopRecipients)
	}

	p, err := s.AgentPerformance(ctx, "Agent1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 3 || p.Incoming != 1 || p.Outgoing != 2 || p.UniqueRecipients != 2 {
		t.Errorf("performance = %+v", p)
	}

	replies, err := s.AgentReplies(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 || replies[0].Agent != "Agent1" || replies[0].OutgoingCount != 2 || replies[0].RecipientsRepliedTo != 2 {
		t.Errorf("replies = %+v", replies)
	}
}

func TestAgentDayMessages_HalfOpen(t *testing.T) {
	s := testStore(t)
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, true, day))
	record(t, s, msg("Agent1", "+1", domain.PlatformWhatsApp, true, day.Add(24*time.Hour)))

	got, err := s.AgentDayMessages(context.Background(), "Agent1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected next-day midnight excluded, got %d", len(got))
	}
}

func TestTeamStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.UpsertAgent(ctx, domain.Agent{Name: "Agent1", Email: "a1@example.com", Active: true})
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.UpsertAgent(ctx, domain.Agent{Name: "Agent1", Phone: "+15550001", Active: false})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != a.ID || again.Phone != "+15550001" || again.Active {
		t.Errorf("upsert did not update in place: %+v", again)
	}
	active, _ := s.ListAgents(ctx, true)
	if len(active) != 0 {
		t.Errorf("expected no active agents, got %d", len(active))
	}

	n, err := s.InsertSchedules(ctx, []domain.Schedule{
		{Agent: "Agent1", Date: "2024-03-04", ShiftStart: base.Add(-time.Hour), ShiftEnd: base.Add(7 * time.Hour), Role: "chat"},
		{Agent: "Agent2", Date: "2024-03-05", ShiftStart: base.Add(23 * time.Hour), ShiftEnd: base.Add(31 * time.Hour)},
	})
	if err != nil || n != 2 {
		t.Fatalf("InsertSchedules = %d, %v", n, err)
	}
	scheds, _ := s.ListSchedules(ctx, "2024-03-04", "2024-03-04", "")
	if len(scheds) != 1 || scheds[0].Role != "chat" {
		t.Errorf("ListSchedules = %+v", scheds)
	}
	on, _ := s.OnShift(ctx, "Agent1", base)
	if !on {
		t.Error("expected Agent1 on shift")
	}
	on, _ = s.OnShift(ctx, "Agent1", base.Add(7*time.Hour))
	if on {
		t.Error("shift end is exclusive")
	}

	if _, err := s.InsertLeave(ctx, domain.Leave{Agent: "Agent1", Start: base, End: base.Add(48 * time.Hour), Status: domain.LeaveApproved}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertLeave(ctx, domain.Leave{Agent: "Agent2", Start: base, End: base.Add(48 * time.Hour), Status: domain.LeaveRequested}); err != nil {
		t.Fatal(err)
	}
	if on, _ := s.OnLeave(ctx, "Agent1", base); !on {
		t.Error("expected approved leave to count")
	}
	if on, _ := s.OnLeave(ctx, "Agent2", base); on {
		t.Error("requested leave must not count")
	}
	if on, _ := s.OnLeave(ctx, "Agent1", base.Add(48*time.Hour)); on {
		t.Error("leave end is exclusive")
	}

	e, err := s.InsertEscalation(ctx, domain.Escalation{Reference: "ref-1", Agent: "Agent1", Reason: "angry", Priority: domain.PriorityHigh, Status: "open"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == 0 {
		t.Error("expected escalation id")
	}
	escs, _ := s.ListEscalations(ctx, "open", 10)
	if len(escs) != 1 || escs[0].Reference != "ref-1" {
		t.Errorf("ListEscalations = %+v", escs)
	}
}

func TestOpenPostgres(t *testing.T) {
	dsn := os.Getenv("CALLCENTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLCENTER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn, testLogger())
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()

	recipient := "+1" + time.Now().Format("150405000")
	_, c := record(t, s, msg("Agent1", recipient, domain.PlatformWhatsApp, true, base))
	if c.MessageCount != 1 {
		t.Errorf("message_count = %d", c.MessageCount)
	}
	_, c = record(t, s, msg("Agent2", recipient, domain.PlatformWhatsApp, false, base.Add(time.Minute)))
	if c.MessageCount != 2 || c.Agent != "Agent2" {
		t.Errorf("unexpected conversation: %+v", c)
	}
}
