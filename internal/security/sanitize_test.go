package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{`<script>alert("x")</script>`, "scriptalert(x)/script"},
		{"it's fine", "its fine"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitize_CapsLength(t *testing.T) {
	long := strings.Repeat("é", MaxInputLen+50)
	got := Sanitize(long)
	if n := utf8.RuneCountInString(got); n != MaxInputLen {
		t.Errorf("expected %d runes, got %d", MaxInputLen, n)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
}

func TestValidPhone(t *testing.T) {
	valid := []string{"+1987654321", "15551234567", "+447911123456"}
	invalid := []string{"", "+0123456", "12345678901234567", "+1-555-1234", "abc", "+"}
	for _, p := range valid {
		if !ValidPhone(p) {
			t.Errorf("expected %q valid", p)
		}
	}
	for _, p := range invalid {
		if ValidPhone(p) {
			t.Errorf("expected %q invalid", p)
		}
	}
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("agent.one+team@example.co") {
		t.Error("expected valid email")
	}
	for _, e := range []string{"", "no-at.example.com", "a@b", "a@b.c"} {
		if ValidEmail(e) {
			t.Errorf("expected %q invalid", e)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	secret := "app-secret"
	header := Sign(body, secret)

	if !VerifySignature(body, secret, header) {
		t.Error("expected valid signature")
	}
	if !VerifySignature(body, secret, "sha256="+strings.ToUpper(header[7:])) {
		t.Error("hex case should not matter")
	}
	if VerifySignature(body, "other", header) {
		t.Error("wrong secret accepted")
	}
	if VerifySignature([]byte(`{"object":"x"}`), secret, header) {
		t.Error("tampered body accepted")
	}
	if VerifySignature(body, secret, header[7:]) {
		t.Error("missing prefix accepted")
	}
	if VerifySignature(body, secret, "sha256=") {
		t.Error("empty signature accepted")
	}
}
