// Package render produces the HTML summary email and the Teams chat message
// from a generated summary.
package render

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/summarize"
)

// emailData is the template context for the summary email.
type emailData struct {
	Subject      string
	When         string
	Duration     string
	Participants []string
	Summary      *summarize.Result
}

var emailTmpl = template.Must(template.New("email").Parse(`<html>
<body style="font-family: Segoe UI, Arial, sans-serif; color: #242424; max-width: 720px;">
<h2 style="margin-bottom: 4px;">{{.Subject}}</h2>
<p style="color: #616161; margin-top: 0;">{{.When}}{{if .Duration}} &middot; {{.Duration}}{{end}}{{if .Participants}} &middot; {{len .Participants}} participants{{end}}</p>

<div style="white-space: pre-line;">{{.Summary.SummaryText}}</div>

{{if .Summary.ActionItems}}<h3>Action items</h3>
<ul>
{{range .Summary.ActionItems}}<li><b>{{.Description}}</b>{{if .Owner}} &mdash; {{.Owner}}{{end}}{{if .DueDate}} (due {{.DueDate}}){{end}}</li>
{{end}}</ul>
{{end}}
{{if .Summary.Decisions}}<h3>Decisions</h3>
<ul>
{{range .Summary.Decisions}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
{{if .Summary.Highlights}}<h3>Highlights</h3>
<ul>
{{range .Summary.Highlights}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
{{if .Summary.KeyNumbers}}<h3>Key numbers</h3>
<ul>
{{range .Summary.KeyNumbers}}<li><b>{{.Value}}</b>{{if .Context}} &mdash; {{.Context}}{{end}}</li>
{{end}}</ul>
{{end}}
{{if .Summary.Topics}}<p style="color: #616161;">Topics: {{range $i, $t := .Summary.Topics}}{{if $i}}, {{end}}{{$t}}{{end}}</p>
{{end}}
<hr style="border: none; border-top: 1px solid #e0e0e0;">
<p style="color: #9e9e9e; font-size: 12px;">Generated automatically from the meeting transcript. Reply to this mailbox with "resend", "disable", or "reprocess" to manage summaries for this meeting.</p>
</body>
</html>`))

var chatTmpl = template.Must(template.New("chat").Parse(`<p><b>Meeting summary: {{.Subject}}</b></p>
<p>{{.Summary.SummaryText}}</p>
{{if .Summary.ActionItems}}<p><b>Action items</b></p>
<ul>
{{range .Summary.ActionItems}}<li>{{.Description}}{{if .Owner}} &mdash; {{.Owner}}{{end}}</li>
{{end}}</ul>
{{end}}{{if .Summary.Decisions}}<p><b>Decisions</b></p>
<ul>
{{range .Summary.Decisions}}<li>{{.}}</li>
{{end}}</ul>
{{end}}<p>The full summary was sent by email to attendees.</p>`))

// EmailSubject builds the summary email subject line.
func EmailSubject(meeting *models.Meeting) string {
	subject := meeting.Subject
	if subject == "" {
		subject = "Teams meeting"
	}
	if meeting.StartTime != nil {
		return fmt.Sprintf("Recap: %s (%s)", subject, meeting.StartTime.Format("Jan 2"))
	}
	return "Recap: " + subject
}

// Email renders the full HTML summary email body.
func Email(meeting *models.Meeting, participants []string, summary *summarize.Result) (string, error) {
	data := emailData{
		Subject:      meeting.Subject,
		When:         formatWhen(meeting.StartTime),
		Duration:     formatDuration(meeting.DurationMinutes),
		Participants: participants,
		Summary:      summary,
	}
	var b strings.Builder
	if err := emailTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering summary email: %w", err)
	}
	return b.String(), nil
}

// ChatMessage renders the short HTML summary posted to the meeting chat.
func ChatMessage(meeting *models.Meeting, summary *summarize.Result) (string, error) {
	data := emailData{Subject: meeting.Subject, Summary: summary}
	var b strings.Builder
	if err := chatTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering chat message: %w", err)
	}
	return b.String(), nil
}

func formatWhen(start *time.Time) string {
	if start == nil {
		return ""
	}
	return start.Format("Monday, 2 January 2006 15:04 MST")
}

func formatDuration(minutes *int) string {
	if minutes == nil || *minutes <= 0 {
		return ""
	}
	if *minutes < 60 {
		return fmt.Sprintf("%d min", *minutes)
	}
	return fmt.Sprintf("%dh %02dm", *minutes/60, *minutes%60)
}
