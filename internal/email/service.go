// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// ErrNotConfigured is returned when SMTP settings are missing.
var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL prefixes links in mails, e.g. https://app.example.com
	BaseURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

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

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart message with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid recipient %q", addr)
		}
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid subject")
	}

	const boundary = "pagespace-alt"
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type InvitationData struct {
	AppName     string
	InviterName string
	DriveName   string
	Role        string
	DriveURL    string
}

func (s *Service) link(path string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

// SendVerificationEmail sends the sign-up verification link.
func (s *Service) SendVerificationEmail(to, userName, token string) error {
	data := VerificationData{
		AppName:         "Pagespace",
		UserName:        userName,
		VerificationURL: s.link("/verify-email?token=" + token),
	}
	html, err := renderTemplate(verificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Hi %s, verify your Pagespace account: %s", userName, data.VerificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your Pagespace account", text, html)
}

// SendDriveInvitation tells a user they were added to a drive.
func (s *Service) SendDriveInvitation(to, inviterName, driveName, driveID, role string) error {
	data := InvitationData{
		AppName:     "Pagespace",
		InviterName: inviterName,
		DriveName:   driveName,
		Role:        role,
		DriveURL:    s.link("/drives/" + driveID),
	}
	html, err := renderTemplate(invitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	text := fmt.Sprintf("%s added you to %s as %s: %s", inviterName, driveName, role, data.DriveURL)
	subject := fmt.Sprintf("%s shared %q with you", inviterName, driveName)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

var templates = map[string]*template.Template{}

func renderTemplate(name string, data any) (string, error) {
	t, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %s", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const (
	verificationTemplate = "verification"
	invitationTemplate   = "invitation"
)

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f54eb; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #2f54eb; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <h1>{{.AppName}}</h1>
`

func init() {
	templates[verificationTemplate] = template.Must(template.New(verificationTemplate).Parse(layoutHead + `
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p class="link">{{.VerificationURL}}</p>
    <div class="footer"><p>This link expires in 24 hours. If you didn't sign up, ignore this email.</p></div>
</body>
</html>`))

	templates[invitationTemplate] = template.Must(template.New(invitationTemplate).Parse(layoutHead + `
    <h2>{{.InviterName}} shared a drive with you</h2>
    <p>You now have <strong>{{.Role}}</strong> access to <strong>{{.DriveName}}</strong>.</p>
    <p><a href="{{.DriveURL}}" class="button">Open drive</a></p>
    <p class="link">{{.DriveURL}}</p>
</body>
</html>`))
}
