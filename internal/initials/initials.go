// Package initials handles the agent sign-off convention: an outgoing reply
// may carry a caret token such as ^BM at its start or end naming the human
// who wrote it.
package initials

import (
	"regexp"
	"strings"
)

var (
	leading  = regexp.MustCompile(`^\s*\^([A-Za-z]{2,5})\b[:\-\s]*`)
	trailing = regexp.MustCompile(`[:\-\s]*\^([A-Za-z]{2,5})\s*$`)
)

// Extract strips one initials token from text and returns the cleaned text
// with the initials upper-cased. A leading token wins over a trailing one.
// When there is no token the trimmed text and "" are returned.
func Extract(text string) (clean, initials string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	if m := leading.FindStringSubmatchIndex(text); m != nil {
		return strings.TrimSpace(text[m[1]:]), strings.ToUpper(text[m[2]:m[3]])
	}
	if m := trailing.FindStringSubmatchIndex(text); m != nil {
		return strings.TrimSpace(text[:m[0]]), strings.ToUpper(text[m[2]:m[3]])
	}
	return text, ""
}

// Display renders an agent as "INITIALS Agent", or just one of the two when
// the other is empty.
func Display(agent, initials string) string {
	agent = strings.TrimSpace(agent)
	switch {
	case initials == "":
		return agent
	case agent == "":
		return initials
	}
	return initials + " " + agent
}
