package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sensorhub/alert-engine/internal/notification"
)

func TestPartitionRecipients(t *testing.T) {
	t.Parallel()

	p := PartitionRecipients([]string{
		" ops@example.com ",
		"https://hooks.example.com/a",
		"HTTP://legacy.example.com/hook",
		"+15550100",
		"5550199",
		"ops@example.com",
		"pager-team",
		"",
		"http://user@hooks.example.com",
	})

	assert.Equal(t, []string{"ops@example.com", "http://user@hooks.example.com"}, p.Email, "@ wins over http prefix")
	assert.Equal(t, []string{"https://hooks.example.com/a", "HTTP://legacy.example.com/hook"}, p.Webhook)
	assert.Equal(t, []string{"+15550100", "5550199"}, p.SMS)
	assert.Len(t, p.All, 7, "trimmed and de-duplicated, unknown entries kept")
	assert.Contains(t, p.All, "pager-team")
}

func TestPartition_For(t *testing.T) {
	t.Parallel()

	p := PartitionRecipients([]string{"ops@example.com", "pager-team"})

	tests := []struct {
		channel    string
		want       []string
		applicable bool
	}{
		{notification.ChannelEmail, []string{"ops@example.com"}, true},
		{notification.ChannelWebhook, nil, false},
		{notification.ChannelSMS, nil, false},
		{notification.ChannelInApp, []string{"ops@example.com", "pager-team"}, true},
		{"pigeon", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			t.Parallel()
			got, ok := p.For(tt.channel)
			assert.Equal(t, tt.applicable, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPartition_InAppWithoutRecipients(t *testing.T) {
	t.Parallel()

	got, ok := PartitionRecipients(nil).For(notification.ChannelInApp)
	assert.True(t, ok)
	assert.Empty(t, got)
}
