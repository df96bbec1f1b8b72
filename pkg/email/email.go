package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the SMTP relay credentials.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
}

func (c Config) Enabled() bool {
	return c.Server != "" && c.Port != 0
}

func (c Config) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// Send delivers a plain-text message and returns the Message-ID it was sent
// with. The context bounds dialing and the whole SMTP exchange.
func Send(ctx context.Context, cfg Config, to, subject, body string) (string, error) {
	if !strings.Contains(to, "@") {
		return "", fmt.Errorf("invalid email address: %s", to)
	}
	if !cfg.Enabled() {
		return "", fmt.Errorf("missing Email configuration: SMTPServer or SMTPPort is empty")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, cfg.Server)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Server}); err != nil {
			return "", fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)); err != nil {
			return "", fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	from := cfg.sender()
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from))
	msg := buildMessage(from, to, subject, body, messageID)

	if err := client.Mail(from); err != nil {
		return "", fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return "", fmt.Errorf("RCPT TO %s rejected: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	_ = client.Quit()
	return messageID, nil
}

func buildMessage(from, to, subject, body, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}
