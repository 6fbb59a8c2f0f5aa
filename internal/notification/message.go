// Package notification delivers alert messages over email, webhook, SMS and
// in-app (MQTT) channels.
package notification

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// Channel names as used in rule delivery channel lists.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
	ChannelInApp   = "inapp"
)

// Channels lists every supported channel name.
var Channels = []string{ChannelEmail, ChannelWebhook, ChannelSMS, ChannelInApp}

// Channel delivers a message to a set of recipients. Implementations must
// be safe for concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message, recipients []string) error
}

// Message is the rendered, channel independent content of a notification.
type Message struct {
	TenantID        string
	RuleID          uint
	RuleName        string
	InstanceID      string
	DeviceID        string
	Severity        string
	Title           string
	Body            string
	FieldValues     map[string]any
	TriggeredAt     time.Time
	Escalation      bool
	EscalationCount int
}

// Event returns the event name used in machine readable payloads.
func (m *Message) Event() string {
	if m.Escalation {
		return "alert.escalated"
	}
	return "alert.triggered"
}

// Payload is the JSON document sent to webhooks and in-app subscribers.
type Payload struct {
	Event       string         `json:"event"`
	TenantID    string         `json:"tenant_id"`
	RuleID      uint           `json:"rule_id"`
	RuleName    string         `json:"rule_name"`
	InstanceID  string         `json:"instance_id"`
	DeviceID    string         `json:"device_id"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	FieldValues map[string]any `json:"field_values,omitempty"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Escalation  bool           `json:"escalation"`
}

// Payload converts the message to its JSON form.
func (m *Message) Payload() Payload {
	return Payload{
		Event:       m.Event(),
		TenantID:    m.TenantID,
		RuleID:      m.RuleID,
		RuleName:    m.RuleName,
		InstanceID:  m.InstanceID,
		DeviceID:    m.DeviceID,
		Severity:    m.Severity,
		Title:       m.Title,
		Message:     m.Body,
		FieldValues: m.FieldValues,
		TriggeredAt: m.TriggeredAt,
		Escalation:  m.Escalation,
	}
}

// NewMessage renders the notification for an instance. A non-nil
// escalation marks the message as escalated and prefixes the title with
// the escalation message.
func NewMessage(inst *entities.AlertInstance, rule *entities.AlertRule, escalation *entities.AlertEscalation) *Message {
	msg := &Message{
		TenantID:        inst.TenantID,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		InstanceID:      inst.ID,
		DeviceID:        inst.DeviceID,
		Severity:        inst.Severity,
		FieldValues:     maps.Clone(map[string]any(inst.FieldValues)),
		TriggeredAt:     inst.TriggeredAt,
		EscalationCount: inst.EscalationCount,
	}

	msg.Title = fmt.Sprintf("[%s] %s on %s", strings.ToUpper(inst.Severity), rule.Name, inst.DeviceID)
	if escalation != nil {
		msg.Escalation = true
		prefix := renderTemplate(escalation.Message, msg)
		if prefix == "" {
			prefix = "ESCALATED"
		}
		msg.Title = prefix + ": " + msg.Title
	}
	msg.Body = renderBody(inst, rule, msg)
	return msg
}

// renderTemplate substitutes {{placeholders}} with message values and the
// device's field values.
func renderTemplate(tmpl string, msg *Message) string {
	if tmpl == "" {
		return ""
	}
	pairs := []string{
		"{{rule_name}}", msg.RuleName,
		"{{device_id}}", msg.DeviceID,
		"{{severity}}", msg.Severity,
		"{{tenant_id}}", msg.TenantID,
	}
	for k, v := range msg.FieldValues {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), fmt.Sprintf("%v", v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func renderBody(inst *entities.AlertInstance, rule *entities.AlertRule, msg *Message) string {
	var b strings.Builder
	if inst.Message != "" {
		b.WriteString(inst.Message)
	} else {
		fmt.Fprintf(&b, "Alert rule %q triggered for device %s", rule.Name, inst.DeviceID)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Severity: %s\n", inst.Severity)
	fmt.Fprintf(&b, "Triggered: %s\n", inst.TriggeredAt.UTC().Format(time.RFC3339))
	if msg.Escalation {
		fmt.Fprintf(&b, "Escalation: %d\n", inst.EscalationCount+1)
	}
	if len(msg.FieldValues) > 0 {
		b.WriteString("Values:\n")
		for _, k := range slices.Sorted(maps.Keys(msg.FieldValues)) {
			fmt.Fprintf(&b, "  %s: %v\n", k, msg.FieldValues[k])
		}
	}
	if inst.Details != "" {
		b.WriteString(inst.Details)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
