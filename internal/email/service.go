// Package email sends checklist notifications via SMTP.
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

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) sender() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	return s.send(s.server, s.auth, s.config.From, to, buildMessage(s.sender(), to, subject, textBody, htmlBody))
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	boundary := "boundary-closingdocs"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return msg.Bytes()
}

// UploadData describes a file that was attached to a checklist item.
type UploadData struct {
	OperationName string
	DocumentLabel string
	PartyName     string
	UploadedBy    string
	UploadedAt    time.Time
	Percent       int
	Completed     int
	Total         int
}

// SendUploadNotification tells the closing coordinator a document arrived.
func (s *Service) SendUploadNotification(to string, data UploadData) error {
	subject := fmt.Sprintf("[%s] Documento recibido: %s", data.OperationName, data.DocumentLabel)
	html, err := renderTemplate(uploadEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render upload template: %w", err)
	}
	text := fmt.Sprintf("%s subió \"%s\" en %s. Avance: %d%% (%d/%d).",
		data.UploadedBy, data.DocumentLabel, data.OperationName, data.Percent, data.Completed, data.Total)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("02/01/2006 15:04") },
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const uploadEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.OperationName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0e7490; padding-bottom: 10px; margin-bottom: 20px; }
        .progress { background: #e5e7eb; border-radius: 4px; height: 10px; overflow: hidden; }
        .bar { background: #0e7490; height: 10px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.OperationName}}</h1>
    </div>

    <p><strong>{{.UploadedBy}}</strong> subió <strong>{{.DocumentLabel}}</strong>{{if .PartyName}} ({{.PartyName}}){{end}}.</p>
    <p>{{date .UploadedAt}}</p>

    <p>Avance / Progress: {{.Percent}}% ({{.Completed}}/{{.Total}})</p>
    <div class="progress"><div class="bar" style="width: {{.Percent}}%"></div></div>

    <div class="footer">
        <p>Mensaje automático del checklist de cierre.</p>
    </div>
</body>
</html>`
