// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "ProIn"

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Message is one outgoing email. Text is the plain part, HTML is optional.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
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

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers the message. The context bounds nothing inside net/smtp and is
// only checked before dialing.
func (s *Service) Send(ctx context.Context, msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.send(s.server, s.auth, s.config.From, msg.To, s.compose(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *Service) compose(msg Message) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		fmt.Fprintf(&buf, "%s\r\n", msg.Text)
		return buf.Bytes()
	}

	boundary := "boundary-proin"
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", msg.Text)
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", msg.HTML)
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

type InvitationData struct {
	AppName     string
	ProjectName string
	InviterName string
	JoinURL     string
}

type WelcomeData struct {
	AppName  string
	UserName string
	Email    string
	LoginURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

func InvitationMessage(to, projectName, inviterName, joinURL string) (Message, error) {
	data := InvitationData{AppName: appName, ProjectName: projectName, InviterName: inviterName, JoinURL: joinURL}
	html, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		return Message{}, fmt.Errorf("render invitation template: %w", err)
	}
	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("You are invited to %s on %s", projectName, appName),
		Text:    fmt.Sprintf("%s invited you to join %s. Open %s to accept.", inviterName, projectName, joinURL),
		HTML:    html,
	}, nil
}

// WelcomeMessage never includes the account password.
func WelcomeMessage(to, userName, loginURL string) (Message, error) {
	data := WelcomeData{AppName: appName, UserName: userName, Email: to, LoginURL: loginURL}
	html, err := renderTemplate(welcomeEmailTemplate, data)
	if err != nil {
		return Message{}, fmt.Errorf("render welcome template: %w", err)
	}
	return Message{
		To:      []string{to},
		Subject: "Welcome to " + appName,
		Text:    fmt.Sprintf("Welcome, %s. Your account %s is ready. Sign in at %s.", userName, to, loginURL),
		HTML:    html,
	}, nil
}

func PasswordResetMessage(to, userName, resetURL string) (Message, error) {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return Message{}, fmt.Errorf("render password reset template: %w", err)
	}
	return Message{
		To:      []string{to},
		Subject: "Reset your " + appName + " password",
		Text:    fmt.Sprintf("Hi %s, open %s to choose a new password. The link expires in 1 hour.", userName, resetURL),
		HTML:    html,
	}, nil
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const baseStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f7d5b; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #2f7d5b; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const invitationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.ProjectName}} on {{.AppName}}</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <h2>{{.InviterName}} invited you to {{.ProjectName}}</h2>
    <p>Accept the invitation to see the project's tasks, transactions and files.</p>
    <p><a href="{{.JoinURL}}" class="button">Join project</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.JoinURL}}</p>
    <div class="footer">
        <p>If you do not have a {{.AppName}} account yet, sign up with this email address first.</p>
    </div>
</body>
</html>`

const welcomeEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to {{.AppName}}</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Your account <strong>{{.Email}}</strong> is ready.</p>
    <p><a href="{{.LoginURL}}" class="button">Sign in</a></p>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p class="link">{{.ResetURL}}</p>
    <p><strong>Important:</strong> This reset link will expire in 1 hour.</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email.</p>
    </div>
</body>
</html>`
