package alerting

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
	"github.com/sensorhub/alert-engine/internal/notification"
)

// ChannelLookup resolves channel names to implementations.
type ChannelLookup interface {
	Get(name string) (notification.Channel, bool)
}

// Report summarises one dispatch. Each list holds channel names.
type Report struct {
	Sent    []string
	Failed  []string
	Skipped []string
}

// Delivered reports whether at least one channel accepted the message.
func (r Report) Delivered() bool {
	return len(r.Sent) > 0
}

// DispatcherOptions tunes channel sends.
type DispatcherOptions struct {
	// SendTimeout bounds each channel send. Zero means 15 seconds.
	SendTimeout time.Duration
	// RateLimit is the sustained sends per second per channel. Zero disables limiting.
	RateLimit rate.Limit
	Burst     int
}

// Dispatcher fans alerts out to channels concurrently. A failing or
// panicking channel never affects the others, and dispatch never fails.
type Dispatcher struct {
	channels    ChannelLookup
	sendTimeout time.Duration
	limiters    map[string]*rate.Limiter
	metrics     *Metrics
	reporter    errors.Reporter
	log         logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(channels ChannelLookup, opts DispatcherOptions, metrics *Metrics, reporter errors.Reporter, log logger.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if reporter == nil {
		reporter = errors.NopReporter{}
	}
	if metrics == nil {
		metrics, _ = NewMetrics(nil)
	}
	d := &Dispatcher{
		channels:    channels,
		sendTimeout: opts.SendTimeout,
		metrics:     metrics,
		reporter:    reporter,
		log:         log.Module("dispatcher"),
	}
	if opts.RateLimit > 0 {
		burst := max(opts.Burst, 1)
		d.limiters = make(map[string]*rate.Limiter, len(notification.Channels))
		for _, name := range notification.Channels {
			d.limiters[name] = rate.NewLimiter(opts.RateLimit, burst)
		}
	}
	return d
}

// Dispatch sends the initial notification over the rule's delivery channels.
func (d *Dispatcher) Dispatch(ctx context.Context, inst *entities.AlertInstance, rule *entities.AlertRule) Report {
	msg := notification.NewMessage(inst, rule, nil)
	return d.fanOut(ctx, msg, rule.DeliveryChannels, rule.Recipients)
}

// Escalate sends the escalation notification over the escalation channels
// and recipients. Rules without escalation produce an empty report.
func (d *Dispatcher) Escalate(ctx context.Context, inst *entities.AlertInstance, rule *entities.AlertRule) Report {
	if rule.Escalation == nil {
		return Report{}
	}
	msg := notification.NewMessage(inst, rule, rule.Escalation)
	return d.fanOut(ctx, msg, rule.Escalation.Channels, rule.Escalation.Recipients)
}

func (d *Dispatcher) fanOut(ctx context.Context, msg *notification.Message, channels, recipients []string) Report {
	partition := PartitionRecipients(recipients)
	log := d.log.With(
		logger.String("tenant_id", msg.TenantID),
		logger.Uint64("rule_id", uint64(msg.RuleID)),
		logger.String("alert_id", msg.InstanceID))

	var (
		report Report
		mu     sync.Mutex
		g      errgroup.Group
	)
	record := func(list *[]string, name, status string) {
		mu.Lock()
		*list = append(*list, name)
		mu.Unlock()
		d.metrics.Notifications.WithLabelValues(name, status).Inc()
	}

	seen := make(map[string]struct{}, len(channels))
	for _, raw := range channels {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		targets, applicable := partition.For(name)
		if !slices.Contains(notification.Channels, name) {
			log.Warn("unknown delivery channel", logger.String("channel", raw))
			record(&report.Skipped, name, statusSkipped)
			continue
		}
		if !applicable {
			log.Debug("no recipients for channel", logger.String("channel", name))
			record(&report.Skipped, name, statusSkipped)
			continue
		}
		ch, ok := d.channels.Get(name)
		if !ok {
			log.Warn("delivery channel not configured", logger.String("channel", name))
			record(&report.Skipped, name, statusSkipped)
			continue
		}

		g.Go(func() error {
			if err := d.send(ctx, ch, msg, targets); err != nil {
				log.Error("notification send failed",
					logger.String("channel", name),
					logger.Int("recipients", len(targets)),
					logger.Error(err))
				d.reporter.Report(err)
				record(&report.Failed, name, statusFailed)
				return nil
			}
			record(&report.Sent, name, statusSent)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(report.Sent)
	slices.Sort(report.Failed)
	slices.Sort(report.Skipped)
	log.Info("notifications dispatched",
		logger.Bool("escalation", msg.Escalation),
		logger.Any("sent", report.Sent),
		logger.Any("failed", report.Failed))
	return report
}

// send runs one channel send with rate limiting, a timeout and panic recovery.
func (d *Dispatcher) send(ctx context.Context, ch notification.Channel, msg *notification.Message, recipients []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("channel %s panicked: %v", ch.Name(), r).
				Component("dispatcher").
				Category(errors.CategoryInternal).
				Build()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if limiter := d.limiters[ch.Name()]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", ch.Name(), err)
		}
	}
	return ch.Send(ctx, msg, recipients)
}
