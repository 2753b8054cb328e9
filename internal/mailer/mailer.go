package mailer

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Mailer is the out-of-band channel for MFA codes and account email.
// Implementations must not retain messages.
type Mailer interface {
	SendLoginCode(to, code string, validMinutes int) error
	SendInvitation(to, token string) error
	SendLoginNotification(to, firstName string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	AppName  string
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	// RFC 822 headers, CRLF separated, blank line before the body.
	headers := []string{
		fmt.Sprintf("From: %s", m.cfg.User),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}
	message := strings.Join(headers, "\r\n")

	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	return smtp.SendMail(addr, auth, m.cfg.User, []string{to}, []byte(message))
}

func (m *SMTPMailer) SendLoginCode(to, code string, validMinutes int) error {
	subject := fmt.Sprintf("%s - Your Login Verification Code", m.cfg.AppName)
	body := fmt.Sprintf(
		"Hello,\n\n"+
			"Use the code below to finish signing in to %s:\n\n"+
			"Login Code: %s\n\n"+
			"This code expires in %d minutes. If you did not try to sign in, please contact your school administrator.\n\n"+
			"The %s Team",
		m.cfg.AppName, code, validMinutes, m.cfg.AppName)
	return m.send(to, subject, body)
}

func (m *SMTPMailer) SendInvitation(to, token string) error {
	subject := fmt.Sprintf("%s - You Have Been Invited", m.cfg.AppName)
	body := fmt.Sprintf(
		"Hello,\n\n"+
			"An account was created for you on %s. Use the invitation token below to set your password:\n\n"+
			"Invitation Token: %s\n\n"+
			"The %s Team",
		m.cfg.AppName, token, m.cfg.AppName)
	return m.send(to, subject, body)
}

func (m *SMTPMailer) SendLoginNotification(to, firstName string) error {
	subject := fmt.Sprintf("%s - New Sign-In", m.cfg.AppName)
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your %s account was just signed in to. If this was not you, reset your password or contact your school administrator.\n\n"+
			"The %s Team",
		firstName, m.cfg.AppName, m.cfg.AppName)
	return m.send(to, subject, body)
}

// LogMailer writes messages to the process log. Used when no SMTP host
// is configured (local development).
type LogMailer struct{}

func (LogMailer) SendLoginCode(to, code string, validMinutes int) error {
	log.Printf("mail: login code for %s: %s (valid %dm)", to, code, validMinutes)
	return nil
}

func (LogMailer) SendInvitation(to, token string) error {
	log.Printf("mail: invitation for %s: %s", to, token)
	return nil
}

func (LogMailer) SendLoginNotification(to, firstName string) error {
	log.Printf("mail: login notification for %s", to)
	return nil
}
