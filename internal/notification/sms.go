package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sensorhub/alert-engine/internal/errors"
)

// maxSMSLength keeps texts within three concatenated SMS segments.
const maxSMSLength = 459

// SMSConfig holds the SMS gateway settings.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
	Timeout    time.Duration
}

// smsRequest is the gateway request body.
type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// SMSChannel sends text messages through an HTTP SMS gateway, one request
// per phone number.
type SMSChannel struct {
	client *resty.Client
	cfg    SMSConfig
}

// NewSMSChannel creates an SMS channel for the configured gateway.
func NewSMSChannel(cfg SMSConfig) *SMSChannel {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &SMSChannel{client: client, cfg: cfg}
}

func (c *SMSChannel) Name() string { return ChannelSMS }

// Client exposes the underlying resty client, mainly for tests.
func (c *SMSChannel) Client() *resty.Client { return c.client }

// Send texts every recipient; failures are joined.
func (c *SMSChannel) Send(ctx context.Context, msg *Message, recipients []string) error {
	text := smsText(msg)
	var errs []error
	for _, to := range recipients {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(smsRequest{To: to, From: c.cfg.Sender, Body: text}).
			Post(c.cfg.GatewayURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		case resp.IsError():
			errs = append(errs, fmt.Errorf("sms to %s: gateway returned status %d", to, resp.StatusCode()))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(errors.Join(errs...)).
		Component("notification.sms").
		Category(errors.CategoryNotification).
		Context("failed", len(errs)).
		Build()
}

func smsText(msg *Message) string {
	line, _, _ := strings.Cut(msg.Body, "\n")
	text := msg.Title + "\n" + line
	runes := []rune(text)
	if len(runes) > maxSMSLength {
		return string(runes[:maxSMSLength-3]) + "..."
	}
	return text
}

