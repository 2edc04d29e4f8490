// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-edms"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ApprovalReminderData holds data for the approval reminder template
type ApprovalReminderData struct {
	AppName       string
	UserName      string
	DocumentTitle string
	DueDate       string
	Overdue       bool
}

// ExpiryReminderData holds data for the expiry reminder template
type ExpiryReminderData struct {
	AppName       string
	DocumentTitle string
	ExpiryDate    string
}

// SendApprovalReminder nudges an approver about an open approval
func (s *Service) SendApprovalReminder(to, userName, documentTitle string, dueDate *time.Time) error {
	data := ApprovalReminderData{
		AppName:       "EDMS",
		UserName:      userName,
		DocumentTitle: documentTitle,
	}
	if dueDate != nil {
		data.DueDate = dueDate.Format("January 2, 2006")
		data.Overdue = dueDate.Before(time.Now())
	}

	subject := fmt.Sprintf("Approval pending: %s", documentTitle)
	if data.Overdue {
		subject = fmt.Sprintf("Approval overdue: %s", documentTitle)
	}
	html, err := renderTemplate(approvalReminderTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval reminder template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendExpiryReminder warns document owners about an upcoming expiry
func (s *Service) SendExpiryReminder(to []string, documentTitle string, expiryDate time.Time) error {
	data := ExpiryReminderData{
		AppName:       "EDMS",
		DocumentTitle: documentTitle,
		ExpiryDate:    expiryDate.Format("January 2, 2006"),
	}

	subject := fmt.Sprintf("Document expiring soon: %s", documentTitle)
	html, err := renderTemplate(expiryReminderTemplate, data)
	if err != nil {
		return fmt.Errorf("render expiry reminder template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const approvalReminderTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval reminder</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Approval reminder</h2>

    <p>Hi {{.UserName}},</p>

    <p>The document <strong>{{.DocumentTitle}}</strong> is waiting for your approval.</p>

    {{if .DueDate}}
    {{if .Overdue}}
    <div class="warning">
        <strong>Overdue:</strong> this approval was due {{.DueDate}}.
    </div>
    {{else}}
    <p>The approval is due by {{.DueDate}}.</p>
    {{end}}
    {{end}}

    <div class="footer">
        <p>You are receiving this because you are listed as an approver on this document.</p>
    </div>
</body>
</html>`

const expiryReminderTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Document expiring</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Document expiring soon</h2>

    <p>The document <strong>{{.DocumentTitle}}</strong> expires on {{.ExpiryDate}}.</p>

    <p>Review it before then if it should stay in effect.</p>

    <div class="footer">
        <p>You are receiving this because you manage documents in this organization.</p>
    </div>
</body>
</html>`
