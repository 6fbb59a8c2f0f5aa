package alerting

import (
	"strings"

	"github.com/sensorhub/alert-engine/internal/notification"
)

// Partition splits a rule's recipient list by the channel each entry is
// addressed to.
type Partition struct {
	Email   []string
	Webhook []string
	SMS     []string
	// All is every trimmed, distinct recipient, including ones no channel
	// recognises.
	All []string
}

// PartitionRecipients infers each recipient's channel from its format:
// anything containing "@" is an email address, an "http" prefix is a
// webhook URL, and a "+" prefix or all digits is a phone number. Other
// entries are ignored.
func PartitionRecipients(recipients []string) Partition {
	var p Partition
	seen := make(map[string]struct{}, len(recipients))
	for _, raw := range recipients {
		r := strings.TrimSpace(raw)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		p.All = append(p.All, r)

		switch {
		case strings.Contains(r, "@"):
			p.Email = append(p.Email, r)
		case hasPrefixFold(r, "http"):
			p.Webhook = append(p.Webhook, r)
		case strings.HasPrefix(r, "+") || isDigits(r):
			p.SMS = append(p.SMS, r)
		}
	}
	return p
}

// For returns the recipients for a channel and whether the channel should
// be invoked. In-app delivery goes to the tenant topic, so it is always
// invoked with the full list.
func (p Partition) For(channel string) ([]string, bool) {
	switch channel {
	case notification.ChannelEmail:
		return p.Email, len(p.Email) > 0
	case notification.ChannelWebhook:
		return p.Webhook, len(p.Webhook) > 0
	case notification.ChannelSMS:
		return p.SMS, len(p.SMS) > 0
	case notification.ChannelInApp:
		return p.All, true
	default:
		return nil, false
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
