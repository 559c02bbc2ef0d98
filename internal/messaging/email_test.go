package messaging

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestEmailSenderSend(t *testing.T) {
	sender, err := NewEmailSender(EmailConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "orders",
		Password: "secret",
		From:     "orders@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var captured struct {
		addr string
		from string
		to   []string
		msg  string
	}
	sender.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return nil
	}

	err = sender.Send(context.Background(), Message{
		To:      "amina@example.com",
		Subject: "Order LT-2025-0042 shipped",
		Body:    "Your order is on its way.",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if captured.addr != "smtp.example.com:587" {
		t.Fatalf("unexpected addr %q", captured.addr)
	}
	if captured.from != "orders@example.com" {
		t.Fatalf("unexpected from %q", captured.from)
	}
	if len(captured.to) != 1 || captured.to[0] != "amina@example.com" {
		t.Fatalf("unexpected recipients %v", captured.to)
	}
	if !strings.Contains(captured.msg, "Subject: Order LT-2025-0042 shipped\r\n") {
		t.Fatalf("expected subject header in message: %q", captured.msg)
	}
	if !strings.Contains(captured.msg, "Your order is on its way.") {
		t.Fatalf("expected body in message: %q", captured.msg)
	}
}

func TestEmailSenderStripsHeaderInjection(t *testing.T) {
	sender, err := NewEmailSender(EmailConfig{Host: "smtp.example.com", Port: 587, From: "orders@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var msg string
	sender.send = func(_ string, _ smtp.Auth, _ string, _ []string, payload []byte) error {
		msg = string(payload)
		return nil
	}

	err = sender.Send(context.Background(), Message{
		To:      "amina@example.com",
		Subject: "hello\r\nBcc: spy@example.com",
		Body:    "hi",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if strings.Contains(msg, "Bcc:") {
		t.Fatalf("expected injected header to be neutralised: %q", msg)
	}
}

func TestEmailSenderRequiresRecipient(t *testing.T) {
	sender, err := NewEmailSender(EmailConfig{Host: "smtp.example.com", Port: 587, From: "orders@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sender.Send(context.Background(), Message{Body: "hi"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestEmailSenderHonoursContextCancellation(t *testing.T) {
	sender, err := NewEmailSender(EmailConfig{Host: "smtp.example.com", Port: 587, From: "orders@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release := make(chan struct{})
	sender.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = sender.Send(ctx, Message{To: "amina@example.com", Body: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestNewEmailSenderValidation(t *testing.T) {
	if _, err := NewEmailSender(EmailConfig{Port: 587, From: "a@b.c"}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewEmailSender(EmailConfig{Host: "h", From: "a@b.c"}); err == nil {
		t.Fatal("expected error for missing port")
	}
	if _, err := NewEmailSender(EmailConfig{Host: "h", Port: 587}); err == nil {
		t.Fatal("expected error for missing from address")
	}
}
