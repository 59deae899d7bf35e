package subscription

import "strings"

// RepeatHeader is the message header producers set on repeated alerts.
const RepeatHeader = "repeat"

// Header looks up a header by name, ignoring case.
func (m Message) Header(name string) (string, bool) {
	if v, ok := m.Headers[name]; ok {
		return v, true
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// NotRepeat passes messages whose repeat header is absent or not "true".
func NotRepeat(m Message) bool {
	v, ok := m.Header(RepeatHeader)
	if !ok {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(v), "true")
}
