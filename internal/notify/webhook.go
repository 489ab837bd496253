package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

// WebhookSink POSTs every event as JSON to a URL.
type WebhookSink struct {
	url string
	rc  *resty.Client
}

// NewWebhookSink creates a webhook sink. secret, when set, is sent as a
// bearer token.
func NewWebhookSink(url, secret string) *WebhookSink {
	rc := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	if secret != "" {
		rc.SetAuthToken(secret)
	}
	return &WebhookSink{url: url, rc: rc}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Publish implements Sink.
func (s *WebhookSink) Publish(ctx context.Context, ev Event) error {
	resp, err := s.rc.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", ev.Type).
		SetBody(ev).
		Post(s.url)
	if err != nil {
		return eris.Wrap(err, "notify: webhook post")
	}
	if resp.IsError() {
		return eris.Errorf("notify: webhook post: status %d", resp.StatusCode())
	}
	return nil
}
