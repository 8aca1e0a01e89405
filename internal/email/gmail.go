package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"

	"github.com/hostedid/devicereset/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender delivers mail through the Gmail API
type GmailSender struct {
	service *gmail.Service
	from    string
}

// NewGmailSender authenticates with a refresh token when one is configured,
// otherwise with service account credentials impersonating the sender mailbox.
func NewGmailSender(ctx context.Context, cfg config.GmailEmailConfig) (*GmailSender, error) {
	if cfg.SenderAddress == "" {
		return nil, errors.New("gmail: sender address is required")
	}

	var source oauth2.TokenSource
	switch {
	case cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailSendScope},
		}
		source = oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	case cfg.CredentialsJSON != "":
		jwtCfg, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
		}
		jwtCfg.Subject = cfg.SenderAddress
		source = jwtCfg.TokenSource(ctx)
	default:
		return nil, errors.New("gmail: either a refresh token or credentials JSON is required")
	}

	return newGmailSender(ctx, cfg.SenderName, cfg.SenderAddress, option.WithTokenSource(source))
}

func newGmailSender(ctx context.Context, name, address string, opts ...option.ClientOption) (*GmailSender, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}
	from := (&mail.Address{Name: name, Address: address}).String()
	return &GmailSender{service: svc, from: from}, nil
}

// Send implements Sender.
func (g *GmailSender) Send(ctx context.Context, msg Message) error {
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME(g.from, msg)))
	if _, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: failed to send email: %w", err)
	}
	return nil
}

const mimeBoundary = "boundary_devicereset_email"

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// buildMIME renders msg as an RFC 5322 message. With both bodies present the
// result is multipart/alternative, text part first.
func buildMIME(from string, msg Message) string {
	var b strings.Builder
	header := func(name, value string) {
		b.WriteString(name + ": " + value + "\r\n")
	}
	part := func(contentType, body string, encoding bool) {
		header("Content-Type", contentType+"; charset=UTF-8")
		if encoding {
			header("Content-Transfer-Encoding", "7bit")
		}
		b.WriteString("\r\n" + body)
	}

	header("From", headerBreaks.Replace(from))
	header("To", headerBreaks.Replace(msg.To))
	header("Subject", mime.QEncoding.Encode("utf-8", headerBreaks.Replace(msg.Subject)))
	header("MIME-Version", "1.0")

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		header("Content-Type", "multipart/alternative; boundary="+mimeBoundary)
		for _, p := range []struct{ kind, body string }{{"text/plain", msg.TextBody}, {"text/html", msg.HTMLBody}} {
			b.WriteString("\r\n--" + mimeBoundary + "\r\n")
			part(p.kind, p.body, true)
			b.WriteString("\r\n")
		}
		b.WriteString("\r\n--" + mimeBoundary + "--")
	case msg.HTMLBody != "":
		part("text/html", msg.HTMLBody, false)
	default:
		part("text/plain", msg.TextBody, false)
	}
	return b.String()
}
