package chat

import (
	"strings"
	"unicode/utf8"
)

const maxTitleLen = 60

// generateTitle derives a consultation title from the first question: its
// first line, cut at a word boundary when longer than maxTitleLen.
func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ""
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = strings.TrimSpace(msg[:idx])
	}
	if utf8.RuneCountInString(msg) <= maxTitleLen {
		return msg
	}

	runes := []rune(msg)
	head := string(runes[:maxTitleLen])
	cut := strings.LastIndex(head, " ")
	if cut < 20 {
		cut = len(head)
	}
	return strings.TrimSpace(head[:cut]) + "..."
}
