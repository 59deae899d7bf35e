// Package validation provides target validation shared by the delivery channels.
package validation

import (
	"net/mail"
	"net/url"
	"strings"
)

// IsValidURL checks if a string is an absolute HTTP/HTTPS URL with a host.
func IsValidURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// ParseRecipients splits a comma-separated list of email addresses,
// dropping empty entries.
func ParseRecipients(value string) []string {
	parts := strings.Split(value, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}

// IsValidEmail reports whether addr parses as a bare RFC 5322 address.
func IsValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}
