package payload

import (
	"bytes"
	"fmt"
	"html/template"

	"alert-mailer/internal/notification"
)

const sectionStyle = `font-size:18px;line-height:22px;color:#c25130;font-weight:bold;`

var emailTemplate = template.Must(template.New("email").Parse(`<p><table border="0" cellpadding="0" cellspacing="0" width="100%">
<tr><td bgcolor="#ffffff" align="center">
<table border="0" cellpadding="0" cellspacing="0" width="700">
<tr><td bgcolor="#425470"><p align="center" style="font-size:24px;color:#d9fffd;font-weight:bold;"><strong>{{.Subject}}</strong></p></td></tr>
<tr><td><p align="left" style="{{.SectionStyle}}">Alert Details</p>
<table>
{{- range .Details}}
<tr><td><b>{{.Label}}:</b></td><td>{{if .Link}}<a href="{{.Value}}">{{.Value}}</a>{{else}}{{.Value}}{{end}}</td></tr>
{{- end}}
</table>
</td></tr>
<tr><td><p align="left" style="{{.SectionStyle}}">Historical Data</p></td></tr>
{{- range .Images}}
<tr><td><img src="{{.}}"></td></tr>
{{- end}}
<tr><td><p align="left" style="{{.SectionStyle}}">Raw Alert</p></td></tr>
<tr><td><p align="left" style="font-family: 'Courier New', Courier, monospace">{{.Raw}}</p></td></tr>
<tr><td>{{.Footer}}</td></tr>
</table>
</td></tr></table>
`))

type emailView struct {
	Subject      string
	SectionStyle template.CSS
	Details      []detail
	Images       []template.URL
	Raw          string
	Footer       string
}

// buildEmailHTML builds the HTML body. Graphs are referenced through their
// Content-ID so the images travel inside the message.
func buildEmailHTML(n notification.Notification, opts EmailOptions) (string, error) {
	view := emailView{
		Subject:      n.Subject(),
		SectionStyle: template.CSS(sectionStyle),
		Details:      details(n),
		Raw:          string(n.Alert.Raw),
		Footer:       footer(opts),
	}
	for _, cid := range opts.GraphCIDs {
		if cid == "" {
			continue
		}
		view.Images = append(view.Images, template.URL("cid:"+cid))
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render email html: %w", err)
	}
	return buf.String(), nil
}
