// Package email delivers fallback nudges through the Resend API.
package email

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/resendlabs/resend-go"
	"github.com/yuin/goldmark"

	"github.com/hrygo/nudger/plugin/notify"
)

// DefaultTimeout bounds a single Resend API request.
const DefaultTimeout = 30 * time.Second

// sender sends one prepared request.
type sender interface {
	send(ctx context.Context, req *resend.SendEmailRequest) error
}

type resendSender struct {
	client *resend.Client
}

func (s *resendSender) send(ctx context.Context, req *resend.SendEmailRequest) error {
	return notify.Call(ctx, func() error {
		if _, err := s.client.Emails.Send(req); err != nil {
			return &notify.ChannelError{Code: notify.CodeUpstream, Message: "failed to send email via Resend", Err: err}
		}
		return nil
	})
}

// Mailer implements notify.Mailer. Bodies are treated as Markdown and sent
// as both HTML and plain text.
type Mailer struct {
	config *Config
	sender sender
}

func NewMailer(config *Config) (*Mailer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resend.NewCustomClient(&http.Client{Timeout: timeout}, config.APIKey)
	return &Mailer{config: config, sender: &resendSender{client: client}}, nil
}

func (m *Mailer) Mail(ctx context.Context, to, subject, body string) error {
	htmlBody, err := RenderHTML(body)
	if err != nil {
		return err
	}
	return m.sender.send(ctx, &resend.SendEmailRequest{
		From:    m.config.Sender(),
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
		Text:    body,
	})
}

// RenderHTML converts a Markdown body into the HTML email layout.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html><html><body style="font-family:sans-serif;line-height:1.5">`)
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render email body")
	}
	buf.WriteString(`</body></html>`)
	return buf.String(), nil
}
