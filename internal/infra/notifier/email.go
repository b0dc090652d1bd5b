package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// EmailConfig holds SMTP settings for operator email.
type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// EmailNotifier sends plain-text mail through an SMTP relay.
type EmailNotifier struct {
	config EmailConfig
	dialer net.Dialer
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(config EmailConfig) *EmailNotifier {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &EmailNotifier{config: config, dialer: net.Dialer{Timeout: config.Timeout}}
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return "email"
}

// Send composes and sends msg. The connection deadline follows ctx and the
// configured timeout, so a stalled relay cannot outlive the call.
func (e *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if len(e.config.To) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}

	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	if err := e.deliver(ctx, addr, e.compose(msg)); err != nil {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(err, os.ErrDeadlineExceeded):
			// the connection deadline is the ctx deadline
			err = context.DeadlineExceeded
		}
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

func (e *EmailNotifier) deliver(ctx context.Context, addr string, body []byte) error {
	conn, err := e.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.config.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(e.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, to := range e.config.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return c.Quit()
}

func (e *EmailNotifier) compose(msg Message) []byte {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	subject := msg.Subject
	if msg.Severity != "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Severity), msg.Subject)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", ts.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	if len(msg.Fields) > 0 {
		b.WriteString("\r\n")
		for _, f := range msg.Fields {
			fmt.Fprintf(&b, "%s: %s\r\n", f.Name, f.Value)
		}
	}
	fmt.Fprintf(&b, "\r\n--\r\nSent %s\r\n", ts.UTC().Format(time.RFC3339))
	return b.Bytes()
}
