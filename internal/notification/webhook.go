package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sensorhub/alert-engine/internal/errors"
)

// WebhookChannel POSTs the JSON payload to every recipient URL.
type WebhookChannel struct {
	client *resty.Client
}

// NewWebhookChannel creates a webhook channel. headers are added to every
// request.
func NewWebhookChannel(timeout time.Duration, headers map[string]string) *WebhookChannel {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "sensorhub-alert-engine")
	client.SetHeaders(headers)
	return &WebhookChannel{client: client}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

// Client exposes the underlying resty client, mainly for tests.
func (c *WebhookChannel) Client() *resty.Client { return c.client }

// Send posts to each URL in turn. A failing URL does not stop the others;
// all failures are returned joined.
func (c *WebhookChannel) Send(ctx context.Context, msg *Message, recipients []string) error {
	payload := msg.Payload()
	var errs []error
	for _, target := range recipients {
		if err := c.post(ctx, target, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(errors.Join(errs...)).
		Component("notification.webhook").
		Category(errors.CategoryNotification).
		Context("failed", len(errs)).
		Context("recipients", len(recipients)).
		Build()
}

func (c *WebhookChannel) post(ctx context.Context, target string, payload Payload) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(target)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", target, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: unexpected status %d", target, resp.StatusCode())
	}
	return nil
}
