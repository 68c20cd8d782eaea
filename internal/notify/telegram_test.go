package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeBotAPI struct {
	mu        sync.Mutex
	sent      []string
	failFirst int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Alerts","username":"alerts_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failFirst > 0 {
			f.failFirst--
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)
			return
		}
		f.sent = append(f.sent, r.Form.Get("text"))
		io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"group"}}}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) (*Telegram, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{
		Token:    "123:abc",
		ChatID:   -100,
		Endpoint: srv.URL + "/bot%s/%s",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	var waits []time.Duration
	tg.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return tg, &waits
}

func TestTelegram_Notify(t *testing.T) {
	api := &fakeBotAPI{}
	tg, _ := newTestTelegram(t, api)

	if err := tg.Notify(context.Background(), "Escalation from Agent3"); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 || api.sent[0] != "Escalation from Agent3" {
		t.Errorf("sent = %v", api.sent)
	}
}

func TestTelegram_RetriesAfterRateLimit(t *testing.T) {
	api := &fakeBotAPI{failFirst: 2}
	tg, waits := newTestTelegram(t, api)

	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent = %v", api.sent)
	}
	if len(*waits) != 2 || (*waits)[0] != time.Second {
		t.Errorf("waits = %v, want two 1s waits from retry_after", *waits)
	}
}

func TestTelegram_GivesUp(t *testing.T) {
	api := &fakeBotAPI{failFirst: 10}
	tg, _ := newTestTelegram(t, api)

	if err := tg.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(long, 40)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 30) {
		t.Errorf("chunks = %q", chunks)
	}
	if got := splitMessage(strings.Repeat("x", 100), 40); len(got) != 3 {
		t.Errorf("expected hard cuts, got %d chunks", len(got))
	}
	if got := splitMessage("", 40); len(got) != 0 {
		t.Errorf("empty text produced %d chunks", len(got))
	}
}

func TestSplitMessage_MultiByte(t *testing.T) {
	text := "Escalation\n" + strings.Repeat("😀", 1100)
	chunks := splitMessage(text, telegramMaxMsgLen)
	if len(chunks) < 2 {
		t.Fatalf("expected the alert to be split, got %d chunk(s)", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not reassemble to the original text")
	}
	for i, c := range chunks {
		if len(c) > telegramMaxMsgLen {
			t.Errorf("chunk %d is %d bytes", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d (%d bytes) is not valid UTF-8", i, len(c))
		}
	}
}
