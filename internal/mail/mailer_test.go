package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRequiresRecipient(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587}, testLogger())
	err := s.Send(context.Background(), Message{Subject: "hi"})
	assert.Error(t, err)
}

func TestSendDeliversBuiltMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotRaw []byte

	s := NewSMTPSender(SMTPConfig{
		Host: "smtp.example.com", Port: 587,
		Username: "u", Password: "p", From: "shop@example.com",
	}, testLogger())
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotRaw = addr, from, to, msg
		return nil
	}

	err := s.Send(context.Background(), Message{
		To:       "buyer@example.com",
		Subject:  "Your license",
		HTMLBody: "<p>hello</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "shop@example.com", gotFrom)
	assert.Equal(t, []string{"buyer@example.com"}, gotTo)
	assert.Contains(t, string(gotRaw), "Subject: Your license")
	assert.Contains(t, string(gotRaw), "<p>hello</p>")
}

func TestSendSurfacesDeliveryError(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587}, testLogger())
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := s.Send(context.Background(), Message{To: "buyer@example.com"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestSendHonorsContextCancellation(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587}, testLogger())
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		time.Sleep(5 * time.Second)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, Message{To: "buyer@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildMIMEWithAttachment(t *testing.T) {
	raw, err := buildMIME("shop@example.com", Message{
		To:       "buyer@example.com",
		Subject:  "Invoice",
		HTMLBody: "<p>invoice attached</p>",
		Attachments: []Attachment{{
			Filename:    "Invoice_3-2026.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4 fake"),
		}},
	})
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "From: shop@example.com")
	assert.Contains(t, s, "To: buyer@example.com")
	assert.Contains(t, s, "MIME-Version: 1.0")
	assert.Contains(t, s, "Content-Type: multipart/mixed")
	assert.Contains(t, s, "Content-Type: text/html; charset=utf-8")
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
	assert.Contains(t, s, `filename="Invoice_3-2026.pdf"`)
}

func TestBuildMIMEWrapsBase64Lines(t *testing.T) {
	big := make([]byte, 600)
	for i := range big {
		big[i] = byte(i % 251)
	}
	raw, err := buildMIME("shop@example.com", Message{
		To:          "buyer@example.com",
		Attachments: []Attachment{{Filename: "f.pdf", Content: big}},
	})
	require.NoError(t, err)

	inBody := false
	for _, line := range strings.Split(string(raw), "\r\n") {
		if strings.HasPrefix(line, "Content-Transfer-Encoding") {
			inBody = true
			continue
		}
		if inBody {
			assert.LessOrEqual(t, len(line), 76)
		}
	}
}

func TestSanitizeSubjectStripsHeaderInjection(t *testing.T) {
	assert.Equal(t, "hello bcc: evil@x.com",
		sanitizeSubject("hello\r\nbcc: evil@x.com"))
}
