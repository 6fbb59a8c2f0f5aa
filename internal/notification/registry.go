package notification

import (
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/sensorhub/alert-engine/internal/conf"
	"github.com/sensorhub/alert-engine/internal/errors"
)

// Registry maps channel names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates a registry holding the given channels.
func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces a channel under its name.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// Close closes every channel holding a connection.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, ch := range r.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// FromSettings builds a registry with every enabled channel.
func FromSettings(cfg conf.NotificationSettings) *Registry {
	r := NewRegistry()
	timeout := cfg.SendTimeout.Std()

	if cfg.Email.Enabled {
		r.Register(NewEmailChannel(EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}))
	}
	if cfg.Webhook.Enabled {
		r.Register(NewWebhookChannel(timeout, cfg.Webhook.Headers))
	}
	if cfg.SMS.Enabled {
		r.Register(NewSMSChannel(SMSConfig{
			GatewayURL: cfg.SMS.GatewayURL,
			APIKey:     cfg.SMS.APIKey,
			Sender:     cfg.SMS.Sender,
			Timeout:    timeout,
		}))
	}
	if cfg.InApp.Enabled {
		r.Register(NewInAppChannel(InAppConfig{
			Broker:      cfg.InApp.Broker,
			ClientID:    cfg.InApp.ClientID,
			Username:    cfg.InApp.Username,
			Password:    cfg.InApp.Password,
			TopicPrefix: cfg.InApp.TopicPrefix,
			QoS:         cfg.InApp.QoS,
		}))
	}
	return r
}
