package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/notification"
)

func TestGetSchema_AllOperatorsPresent(t *testing.T) {
	t.Parallel()

	schema := GetSchema()
	names := make([]string, 0, len(schema.Operators))
	for _, op := range schema.Operators {
		names = append(names, op.Name)
		assert.NotEmpty(t, op.Label, op.Name)
		cond := entities.AlertCondition{Operator: op.Name}
		assert.Equal(t, cond.IsRange(), op.Range, op.Name)
	}
	assert.Equal(t, entities.Operators, names)
}

func TestGetSchema_ChannelsMatchRegistry(t *testing.T) {
	t.Parallel()

	schema := GetSchema()
	names := make([]string, 0, len(schema.Channels))
	for _, ch := range schema.Channels {
		names = append(names, ch.Name)
		assert.NotEmpty(t, ch.Recipient, ch.Name)
	}
	assert.ElementsMatch(t, notification.Channels, names)
	assert.Equal(t, []string{"info", "warning", "critical"}, schema.Severities)
}
