package observability

import (
	"strings"
	"unicode"
)

const maxLogValueLen = 256

// stripUnsafe drops control characters that could forge log lines and caps
// the value length so a hostile header cannot bloat log entries.
func stripUnsafe(value string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = maxLogValueLen
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(cleaned) > maxLen {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			runes = runes[:maxLen]
		}
		cleaned = string(runes)
	}
	return cleaned
}

// SanitizeRoute makes a chi route pattern safe for log and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripUnsafe(route, 180)
}

// SanitizeMethod makes an HTTP method value safe for log attributes.
func SanitizeMethod(method string) string {
	return stripUnsafe(method, 10)
}

// SanitizeUserID bounds user identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return stripUnsafe(uid, 64)
}
