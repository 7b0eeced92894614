package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	apperrors "courier/internal/errors"

	"github.com/google/uuid"
)

// SMTPSender delivers messages as plain-text mail through a relay.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	subject  string

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, username, password, from, subject string) *SMTPSender {
	if subject == "" {
		subject = "New message"
	}
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		subject:  subject,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, dest Destination, msg Message) (string, error) {
	if dest.Email == "" {
		return "", apperrors.NewValidationError("destination", "smtp delivery requires an email address")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body := msg.Content
	if msg.MediaURL != "" {
		body += "\r\n\r\n" + msg.MediaURL
	}

	// Message-ID doubles as the external id since SMTP relays do not
	// return one.
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	headers := []string{
		"From: " + s.from,
		"To: " + dest.Email,
		"Subject: " + s.subject,
		"Message-ID: " + messageID,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
	}
	raw := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body + "\r\n")

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.send(addr, auth, s.from, []string{dest.Email}, raw); err != nil {
		// Relay errors are treated as transient; permanent rejects
		// surface on the retry that follows.
		return "", apperrors.NewChannelError("smtp", 0, err)
	}

	return messageID, nil
}
