package messaging

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig configures the SMTP transport.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers messages over SMTP with PLAIN auth.
type EmailSender struct {
	addr string
	auth smtp.Auth
	from string
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender builds the transport from its configuration.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("email sender requires smtp host")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("email sender requires smtp port")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email sender requires from address")
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailSender{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
		from: cfg.From,
		send: smtp.SendMail,
	}, nil
}

// Name implements Sender.
func (s *EmailSender) Name() string { return "email" }

// Send implements Sender. net/smtp has no context support, so the dial runs in
// a goroutine and the caller's deadline is enforced from outside.
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("email send: recipient address is required")
	}
	payload := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.from, to, sanitizeHeader(msg.Subject), msg.Body))

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from, []string{to}, payload)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email send: %w", ctx.Err())
	}
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
