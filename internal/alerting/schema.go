package alerting

import (
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/notification"
)

// Schema describes the vocabulary rule editors can build from.
type Schema struct {
	Operators      []OperatorSchema `json:"operators"`
	Channels       []ChannelSchema  `json:"channels"`
	Severities     []string         `json:"severities"`
	TargetTypes    []string         `json:"targetTypes"`
	ConditionLogic []string         `json:"conditionLogic"`
}

// OperatorSchema describes a comparison operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	// Range operators take a second threshold.
	Range bool `json:"range"`
}

// ChannelSchema describes a delivery channel and the recipient format it
// picks from a rule's recipient list.
type ChannelSchema struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Recipient string `json:"recipient"`
}

// GetSchema returns the alerting schema.
func GetSchema() Schema {
	return Schema{
		Operators: []OperatorSchema{
			{Name: entities.OperatorGreaterThan, Label: "greater than"},
			{Name: entities.OperatorLessThan, Label: "less than"},
			{Name: entities.OperatorEqual, Label: "equal to"},
			{Name: entities.OperatorNotEqual, Label: "not equal to"},
			{Name: entities.OperatorBetween, Label: "between", Range: true},
			{Name: entities.OperatorOutside, Label: "outside", Range: true},
		},
		Channels: []ChannelSchema{
			{Name: notification.ChannelEmail, Label: "Email", Recipient: "address containing @"},
			{Name: notification.ChannelWebhook, Label: "Webhook", Recipient: "http or https URL"},
			{Name: notification.ChannelSMS, Label: "SMS", Recipient: "phone number, digits or leading +"},
			{Name: notification.ChannelInApp, Label: "In-app", Recipient: "tenant topic"},
		},
		Severities:     []string{entities.SeverityInfo, entities.SeverityWarning, entities.SeverityCritical},
		TargetTypes:    []string{entities.TargetTypeDevice, entities.TargetTypeDeviceType},
		ConditionLogic: []string{entities.LogicAnd, entities.LogicOr},
	}
}
