// Package privacy masks recipient identifiers before they reach logs.
package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511999990000" -> "+*********0000"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskEmail masks the local part of an e-mail address, keeping the
// first character and the full domain.
// Example: "someone@example.com" -> "s******@example.com"
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskString(email, 0)
	}

	local, domain := email[:at], email[at:]
	if len(local) == 1 {
		return "*" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// MaskChatID masks an external chat id, keeping the last 4 characters
// and any domain-style suffix.
// Example: "1234567890@c.us" -> "******7890@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at > 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}
	return maskString(chatID, 4)
}

// MaskDestination masks whichever recipient identifier is present,
// applying the format-appropriate rule.
func MaskDestination(dest string) string {
	switch {
	case dest == "":
		return ""
	case strings.HasSuffix(dest, "@c.us") || strings.HasSuffix(dest, "@g.us"):
		return MaskChatID(dest)
	case strings.Contains(dest, "@"):
		return MaskEmail(dest)
	case strings.HasPrefix(dest, "+") || isNumericPrefix(dest):
		return MaskPhoneNumber(dest)
	default:
		return MaskChatID(dest)
	}
}

// MaskAPIKey keeps only the last 4 characters of an API key.
func MaskAPIKey(key string) string {
	return maskString(key, 4)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumericPrefix(s string) bool {
	count := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		count++
	}
	return count >= 7
}
