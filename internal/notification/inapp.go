package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sensorhub/alert-engine/internal/errors"
)

// InAppConfig holds the MQTT broker settings for in-app notifications.
type InAppConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publisher publishes a payload to a topic.
type publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Close()
}

// InAppChannel publishes alerts to {prefix}/{tenant}/alerts, where the
// dashboard backend relays them to connected users. Recipients are not
// used; every subscriber of the tenant topic receives the alert.
type InAppChannel struct {
	cfg InAppConfig
	pub publisher
}

// NewInAppChannel creates an in-app channel. The broker connection is
// opened on first send.
func NewInAppChannel(cfg InAppConfig) *InAppChannel {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sensorhub"
	}
	return &InAppChannel{cfg: cfg, pub: &pahoPublisher{cfg: cfg}}
}

func (c *InAppChannel) Name() string { return ChannelInApp }

// Topic returns the tenant's alert topic.
func (c *InAppChannel) Topic(tenantID string) string {
	return fmt.Sprintf("%s/%s/alerts", c.cfg.TopicPrefix, tenantID)
}

// Send publishes the JSON payload to the tenant topic.
func (c *InAppChannel) Send(ctx context.Context, msg *Message, _ []string) error {
	body, err := json.Marshal(msg.Payload())
	if err != nil {
		return fmt.Errorf("failed to encode in-app payload: %w", err)
	}
	if err := c.pub.Publish(ctx, c.Topic(msg.TenantID), c.cfg.QoS, body); err != nil {
		return errors.Wrap(err).
			Component("notification.inapp").
			Category(errors.CategoryNotification).
			Context("tenant_id", msg.TenantID).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (c *InAppChannel) Close() error {
	c.pub.Close()
	return nil
}

// pahoPublisher owns a lazily connected paho client.
type pahoPublisher struct {
	cfg    InAppConfig
	mu     sync.Mutex
	client mqtt.Client
}

func (p *pahoPublisher) connect(ctx context.Context) (mqtt.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnectionOpen() {
		return p.client, nil
	}
	if p.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(p.cfg.Broker)
		opts.SetClientID(p.cfg.ClientID)
		if p.cfg.Username != "" {
			opts.SetUsername(p.cfg.Username)
		}
		if p.cfg.Password != "" {
			opts.SetPassword(p.cfg.Password)
		}
		opts.SetAutoReconnect(true)
		opts.SetCleanSession(true)
		opts.SetConnectTimeout(10 * time.Second)
		p.client = mqtt.NewClient(opts)
	}
	if p.client.IsConnected() {
		// Auto-reconnect is in progress.
		return p.client, nil
	}

	token := p.client.Connect()
	if !waitToken(ctx, token) {
		return nil, fmt.Errorf("connect to %s: %w", p.cfg.Broker, contextErr(ctx))
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", p.cfg.Broker, err)
	}
	return p.client, nil
}

func (p *pahoPublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	token := client.Publish(topic, qos, false, payload)
	if !waitToken(ctx, token) {
		return fmt.Errorf("publish to %s: %w", topic, contextErr(ctx))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (p *pahoPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

// waitToken waits for the token until ctx is done. It reports whether the
// token completed.
func waitToken(ctx context.Context, token mqtt.Token) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	}
}

func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.DeadlineExceeded
}
