// Package events defines the alert event published on the notify topic.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Alert represents an alert event from the notify topic.
// ID and Severity are always present; every other field is optional.
type Alert struct {
	ID               string   `json:"uuid"`
	Source           string   `json:"source,omitempty"`
	Event            string   `json:"event,omitempty"`
	Group            string   `json:"group,omitempty"`
	Severity         string   `json:"severity"`
	PreviousSeverity string   `json:"previousSeverity,omitempty"`
	Value            Scalar   `json:"value,omitempty"`
	Text             string   `json:"text,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	CreateTime       string   `json:"createTime,omitempty"`
	Environment      Tags     `json:"environment,omitempty"`
	Service          Tags     `json:"service,omitempty"`
	AlertRule        string   `json:"alertRule,omitempty"`
	DuplicateCount   *int     `json:"duplicateCount,omitempty"`
	MoreInfo         string   `json:"moreInfo,omitempty"`
	Graphs           []string `json:"graphs,omitempty"`
	Repeat           bool     `json:"repeat,omitempty"`

	// Raw is the body the alert was decoded from.
	Raw json.RawMessage `json:"-"`
}

// Tags holds environment or service names. Producers send either a single
// string or a list of strings.
type Tags []string

// UnmarshalJSON accepts a string, a list of strings, or null.
func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Tags{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = list
	return nil
}

// Scalar holds a value sent as either a JSON string or a JSON number.
type Scalar string

// UnmarshalJSON keeps numbers in their textual form.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Scalar(n.String())
	return nil
}

// PreviousSeverityOrUnknown returns the previous severity or "(unknown)".
func (a *Alert) PreviousSeverityOrUnknown() string {
	if a.PreviousSeverity == "" {
		return "(unknown)"
	}
	return a.PreviousSeverity
}

// DecodeError reports a payload that could not be turned into an Alert.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode alert: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to decode alert: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode parses a JSON body into an Alert.
// Returns a DecodeError if the body is not valid JSON or lacks an id or severity.
func Decode(body []byte) (*Alert, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &DecodeError{Reason: "empty body"}
	}

	var alert Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}
	if alert.ID == "" {
		return nil, &DecodeError{Reason: "missing uuid"}
	}
	if alert.Severity == "" {
		return nil, &DecodeError{Reason: "missing severity"}
	}

	alert.Raw = append(json.RawMessage(nil), body...)
	return &alert, nil
}
