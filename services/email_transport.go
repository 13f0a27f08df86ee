package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/kendall-kelly/support-chat-api/config"
)

// EmailTransport sends a plain text email
type EmailTransport interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPTransport sends mail through an SMTP relay, upgrading to TLS when offered.
// The context deadline bounds the whole conversation with the server.
type SMTPTransport struct {
	cfg config.SMTPConfig
}

// NewSMTPTransport creates an SMTP transport from cfg
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// Send delivers one message to every address in to
func (t *SMTPTransport) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return errors.New("email has no recipients")
	}
	if t.cfg.Host == "" {
		return errors.New("smtp host is not configured")
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.Mail(t.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s failed: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildMessage(t.cfg.From, to, subject, body, time.Now())); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return c.Quit()
}

// buildMessage renders an RFC 5322 message. Recipients are not listed in the headers
// so a fan-out email does not disclose addresses to each other.
func buildMessage(from string, to []string, subject, body string, at time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if len(to) == 1 {
		fmt.Fprintf(&buf, "To: %s\r\n", to[0])
	} else {
		buf.WriteString("To: undisclosed-recipients:;\r\n")
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", at.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}
