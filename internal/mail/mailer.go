// Package mail sends transactional email (purchase confirmations with the
// invoice attached, license recovery). Delivery failure is surfaced to the
// caller and never rolls back committed license or invoice state; the
// reconciliation pipeline downgrades it to a distinguishable order status
// instead.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// Attachment is a binary document attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a single outbound email.
type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Sender delivers messages. Implementations must treat Send as blocking I/O
// with no internal retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout caps a single delivery when the caller's context carries no
	// deadline of its own.
	Timeout time.Duration
}

// SMTPSender sends mail over authenticated SMTP.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for the given SMTP account.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailer")),
		send:   smtp.SendMail,
	}
}

// Send builds a MIME message (HTML body plus attachments) and delivers it.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient required")
	}

	raw, err := buildMIME(s.cfg.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{msg.To}, raw)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			s.logger.ErrorContext(ctx, "mail delivery failed",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
			return fmt.Errorf("send mail: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "mail sent",
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)))
	return nil
}

func buildMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", sanitizeSubject(msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", "text/html; charset=utf-8")
	body, err := w.CreatePart(bodyHeader)
	if err != nil {
		return nil, err
	}
	if _, err := body.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", contentType)
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(att.Content)
		// RFC 2045 line length limit.
		for len(enc) > 76 {
			if _, err := fmt.Fprintf(part, "%s\r\n", enc[:76]); err != nil {
				return nil, err
			}
			enc = enc[76:]
		}
		if _, err := fmt.Fprintf(part, "%s\r\n", enc); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sanitizeSubject guards against header injection from templated values.
func sanitizeSubject(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
