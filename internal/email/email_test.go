package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestBuildMIMEMultipart(t *testing.T) {
	raw := buildMIME("HostedID <no-reply@example.com>", Message{
		To:       "user@example.com",
		Subject:  "Hello",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	})

	assert.True(t, strings.HasPrefix(raw, "From: HostedID <no-reply@example.com>\r\n"))
	assert.Contains(t, raw, "To: user@example.com\r\n")
	assert.Contains(t, raw, "Content-Type: multipart/alternative; boundary="+mimeBoundary)
	assert.Less(t, strings.Index(raw, "text/plain"), strings.Index(raw, "text/html"))
	assert.True(t, strings.HasSuffix(raw, "--"+mimeBoundary+"--"))
}

func TestBuildMIMESinglePart(t *testing.T) {
	htmlOnly := buildMIME("a@example.com", Message{To: "b@example.com", Subject: "s", HTMLBody: "<b>x</b>"})
	assert.Contains(t, htmlOnly, "Content-Type: text/html; charset=UTF-8\r\n\r\n<b>x</b>")
	assert.NotContains(t, htmlOnly, "multipart")

	textOnly := buildMIME("a@example.com", Message{To: "b@example.com", Subject: "s", TextBody: "x"})
	assert.Contains(t, textOnly, "Content-Type: text/plain; charset=UTF-8\r\n\r\nx")
}

func TestResetLinkEmail(t *testing.T) {
	expires := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	msg := ResetLinkEmail("user@example.com", "HostedID", "https://id.example.com/reset-device?token=abc", expires)

	assert.Equal(t, "user@example.com", msg.To)
	assert.Contains(t, msg.Subject, "HostedID")
	assert.Contains(t, msg.TextBody, "https://id.example.com/reset-device?token=abc")
	assert.Contains(t, msg.HTMLBody, "https://id.example.com/reset-device?token=abc")
	assert.Contains(t, msg.TextBody, "May 4, 2026 10:30 UTC")
}

func TestTemplatesEscapeAppName(t *testing.T) {
	msg := DeviceResetEmail("user@example.com", "<script>")
	assert.NotContains(t, msg.HTMLBody, "<strong><script></strong>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")

	fraud := FraudReportEmail("user@example.com", "HostedID")
	assert.Contains(t, fraud.Subject, "blocked")
	assert.NotEmpty(t, fraud.TextBody)
}

func TestLogSenderKeepsMessages(t *testing.T) {
	sender := NewLogSender(logger.Nop())
	require.NoError(t, sender.Send(context.Background(), Message{To: "a@example.com", Subject: "one"}))
	require.NoError(t, sender.Send(context.Background(), Message{To: "b@example.com", Subject: "two"}))

	sent := sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "two", sent[1].Subject)
}

func TestNewSenderProviders(t *testing.T) {
	ctx := context.Background()

	sender, err := NewSender(ctx, config.EmailConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, sender)

	_, err = NewSender(ctx, config.EmailConfig{Provider: "carrier-pigeon"}, logger.Nop())
	assert.Error(t, err)
}

func TestBuildMIMEHeaders(t *testing.T) {
	raw := buildMIME("a@example.com", Message{
		To:       "b@example.com\r\nBcc: evil@example.com",
		Subject:  "Gerät zurückgesetzt",
		TextBody: "x",
	})

	assert.NotContains(t, raw, "\r\nBcc:")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
}

func TestNewGmailSenderRequiresCredentials(t *testing.T) {
	ctx := context.Background()

	_, err := NewGmailSender(ctx, config.GmailEmailConfig{})
	assert.ErrorContains(t, err, "sender address")

	_, err = NewGmailSender(ctx, config.GmailEmailConfig{SenderAddress: "no-reply@example.com"})
	assert.ErrorContains(t, err, "refresh token or credentials")

	_, err = NewGmailSender(ctx, config.GmailEmailConfig{SenderAddress: "no-reply@example.com", CredentialsJSON: "{"})
	assert.ErrorContains(t, err, "failed to parse credentials")
}

func TestGmailSenderSend(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/send"), r.URL.Path)

		var body struct {
			Raw string `json:"raw"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw = body.Raw

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	sender, err := newGmailSender(ctx, "HostedID", "no-reply@example.com",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, Message{To: "user@example.com", Subject: "Hi", TextBody: "body"}))

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "From: \"HostedID\" <no-reply@example.com>\r\n")
	assert.Contains(t, string(decoded), "To: user@example.com\r\n")
}
