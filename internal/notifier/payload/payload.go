// Package payload renders notifications for the different delivery channels.
package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"alert-mailer/internal/notification"
)

// generator is the program name written in the footer of rendered messages.
const generator = "alert-mailer"

// footerTimeLayout matches the "Mon 02 Jan 15:04:05" footer of the legacy mailer.
const footerTimeLayout = "Mon 02 Jan 15:04:05"

// EmailOptions carries the rendering inputs that do not come from the alert itself.
type EmailOptions struct {
	// GraphCIDs holds one Content-ID per entry in Alert.Graphs. An empty entry
	// means the image is not attached and is left out of the HTML body.
	GraphCIDs   []string
	Host        string
	GeneratedAt time.Time
}

// EmailPayload represents email message content.
type EmailPayload struct {
	Subject string
	Text    string
	HTML    string
}

// BuildEmailPayload builds the subject, plain text and HTML bodies for a notification.
func BuildEmailPayload(n notification.Notification, opts EmailOptions) (EmailPayload, error) {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}

	html, err := buildEmailHTML(n, opts)
	if err != nil {
		return EmailPayload{}, err
	}

	return EmailPayload{
		Subject: n.Subject(),
		Text:    buildEmailText(n, opts),
		HTML:    html,
	}, nil
}

// detail is one labelled row of the Alert Details section.
type detail struct {
	Label string
	Value string
	Link  bool
}

// details returns the Alert Details rows in display order, skipping optional
// fields the alert does not carry.
func details(n notification.Notification) []detail {
	a := n.Alert
	rows := []detail{
		{Label: "Alert ID", Value: a.ID},
		{Label: "Create Time", Value: a.CreateTime},
		{Label: "Source", Value: a.Source},
		{Label: "Environment", Value: strings.Join(a.Environment, ", ")},
		{Label: "Service/Grid", Value: strings.Join(a.Service, ", ")},
		{Label: "Event Name", Value: a.Event},
		{Label: "Event Group", Value: a.Group},
		{Label: "Event Value", Value: string(a.Value)},
		{Label: "State", Value: fmt.Sprintf("%s -> %s", a.PreviousSeverityOrUnknown(), a.Severity)},
		{Label: "Text", Value: a.Text},
	}
	if a.AlertRule != "" {
		rows = append(rows, detail{Label: "Alert Rule", Value: a.AlertRule})
	}
	if a.DuplicateCount != nil {
		rows = append(rows, detail{Label: "Duplicate Count", Value: strconv.Itoa(*a.DuplicateCount)})
	}
	if a.MoreInfo != "" {
		rows = append(rows, detail{Label: "More Info", Value: a.MoreInfo, Link: true})
	}
	rows = append(rows, detail{Label: "Tokens", Value: fmt.Sprintf("%d left", n.TokensRemaining)})
	return rows
}

func footer(opts EmailOptions) string {
	host := opts.Host
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("Generated by %s on %s at %s", generator, host, opts.GeneratedAt.Format(footerTimeLayout))
}

// buildEmailText builds the plain text body.
func buildEmailText(n notification.Notification, opts EmailOptions) string {
	var sb strings.Builder
	sb.WriteString(n.Subject() + "\n")
	sb.WriteString("Alert Details\n")
	for _, d := range details(n) {
		sb.WriteString(fmt.Sprintf("%s: %s\n", d.Label, d.Value))
	}
	sb.WriteString("Historical Data\n")
	for _, g := range n.Alert.Graphs {
		sb.WriteString(g + "\n")
	}
	sb.WriteString("Raw Alert\n")
	sb.WriteString(string(n.Alert.Raw) + "\n")
	sb.WriteString(footer(opts) + "\n")
	return sb.String()
}

// SlackPayload represents a Slack webhook payload.
type SlackPayload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack message attachment.
type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field represents a field in a Slack attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// BuildSlackPayload builds a Slack webhook payload from the notification.
func BuildSlackPayload(n notification.Notification) SlackPayload {
	a := n.Alert

	fields := []Field{
		{Title: "Severity", Value: fmt.Sprintf("%s -> %s", a.PreviousSeverityOrUnknown(), a.Severity), Short: true},
		{Title: "Source", Value: a.Source, Short: true},
		{Title: "Event", Value: a.Event, Short: true},
		{Title: "Group", Value: a.Group, Short: true},
		{Title: "Environment", Value: strings.Join(a.Environment, ", "), Short: true},
		{Title: "Service", Value: strings.Join(a.Service, ", "), Short: true},
		{Title: "Alert ID", Value: a.ID, Short: false},
		{Title: "Tokens", Value: fmt.Sprintf("%d left", n.TokensRemaining), Short: true},
	}
	if a.Value != "" {
		fields = append(fields, Field{Title: "Value", Value: string(a.Value), Short: true})
	}

	attachment := Attachment{
		Color:     getSeverityColor(a.Severity),
		Title:     n.Subject(),
		TitleLink: a.MoreInfo,
		Text:      a.Text,
		Fields:    fields,
		Timestamp: n.AdmittedAt.Unix(),
	}
	if len(a.Graphs) > 0 {
		attachment.ImageURL = a.Graphs[0]
	}

	return SlackPayload{Attachments: []Attachment{attachment}}
}

// getSeverityColor returns the Slack color for a given severity.
func getSeverityColor(severity string) string {
	switch strings.ToUpper(severity) {
	case "CRITICAL", "MAJOR":
		return "danger"
	case "MINOR", "WARNING":
		return "warning"
	default:
		return "good"
	}
}

// WebhookPayload represents a webhook payload.
type WebhookPayload struct {
	AlertID          string   `json:"alert_id"`
	Severity         string   `json:"severity"`
	PreviousSeverity string   `json:"previous_severity,omitempty"`
	Source           string   `json:"source"`
	Event            string   `json:"event"`
	Group            string   `json:"group,omitempty"`
	Summary          string   `json:"summary"`
	Text             string   `json:"text,omitempty"`
	Value            string   `json:"value,omitempty"`
	Environment      []string `json:"environment,omitempty"`
	Service          []string `json:"service,omitempty"`
	MoreInfo         string   `json:"more_info,omitempty"`
	Graphs           []string `json:"graphs,omitempty"`
	TokensRemaining  int      `json:"tokens_remaining"`
	Timestamp        string   `json:"timestamp"`
}

// BuildWebhookPayload builds a webhook payload from the notification.
func BuildWebhookPayload(n notification.Notification) WebhookPayload {
	a := n.Alert
	return WebhookPayload{
		AlertID:          a.ID,
		Severity:         a.Severity,
		PreviousSeverity: a.PreviousSeverity,
		Source:           a.Source,
		Event:            a.Event,
		Group:            a.Group,
		Summary:          n.Subject(),
		Text:             a.Text,
		Value:            string(a.Value),
		Environment:      a.Environment,
		Service:          a.Service,
		MoreInfo:         a.MoreInfo,
		Graphs:           a.Graphs,
		TokensRemaining:  n.TokensRemaining,
		Timestamp:        n.AdmittedAt.UTC().Format(time.RFC3339),
	}
}
