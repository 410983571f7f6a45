package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/nudger/plugin/notify"
)

var (
	// timeout is the timeout for webhook request. Default to 30 seconds.
	// Callers usually impose a shorter deadline through the context.
	timeout = 30 * time.Second
)

type PushRequestPayload struct {
	Target   string            `json:"target"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Post posts the push request to the webhook endpoint.
func Post(ctx context.Context, client *http.Client, url string, requestPayload *PushRequestPayload) error {
	body, err := json.Marshal(requestPayload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", url)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &notify.ChannelError{Code: notify.CodeTransport, Message: "failed to post webhook to " + url, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &notify.ChannelError{Code: notify.CodeTransport, Message: "failed to read webhook response from " + url, Err: err}
	}

	if err := notify.FromStatus(resp.StatusCode, string(b)); err != nil {
		return err
	}

	// An empty 2xx body counts as accepted.
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	response := &struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{}
	if err := json.Unmarshal(b, response); err != nil {
		return errors.Wrapf(err, "failed to unmarshal webhook response from %s", url)
	}

	if response.Code != 0 {
		slog.Warn("push webhook rejected request", slog.String("url", url), slog.Int("code", response.Code), slog.String("msg", response.Message))
		return errors.Errorf("receive error code sent by webhook server, code %d, msg: %s", response.Code, response.Message)
	}

	return nil
}

// Pusher implements notify.Pusher by posting to a push gateway webhook.
type Pusher struct {
	url    string
	client *http.Client
}

func NewPusher(url string) *Pusher {
	return &Pusher{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *Pusher) Push(ctx context.Context, target, title, body string, metadata map[string]string) error {
	return Post(ctx, p.client, p.url, &PushRequestPayload{
		Target:   target,
		Title:    title,
		Body:     body,
		Metadata: metadata,
	})
}
