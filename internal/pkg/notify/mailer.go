package notify

import (
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
)

// Mailer sends notification emails via SMTP.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
}

// NewMailerFromEnv builds the mailer configuration from the environment.
func NewMailerFromEnv() *Mailer {
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Warnf("[Notify] SMTP_SENDER not set, using default sender: %s", sender)
	}
	return &Mailer{
		host:     env.GetEnv("SMTP_HOST", ""),
		port:     env.GetEnv("SMTP_PORT", ""),
		username: env.GetEnv("SMTP_USERNAME", ""),
		password: env.GetEnv("SMTP_PASSWORD", ""),
		sender:   sender,
	}
}

// Send delivers one HTML email.
func (m *Mailer) Send(to string, subject string, body string) error {
	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	return smtp.SendMail(addr, auth, m.sender, []string{to}, msg)
}
