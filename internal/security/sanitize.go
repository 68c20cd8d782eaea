// Package security holds input sanitization, contact validators and the
// webhook signature check shared by the HTTP handlers.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// MaxInputLen caps sanitized free text, in characters.
const MaxInputLen = 1000

var (
	phoneRe = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	stripChars = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")
)

// Sanitize removes markup-significant characters, trims and caps text.
func Sanitize(text string) string {
	return Truncate(strings.TrimSpace(stripChars.Replace(text)), MaxInputLen)
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ValidPhone reports whether s looks like an E.164 number, the leading plus
// being optional.
func ValidPhone(s string) bool {
	return phoneRe.MatchString(s)
}

func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// VerifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the HMAC-SHA256 of body keyed with secret.
func VerifySignature(body []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
