package alerting

import (
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// Device types used by the demo data set.
const (
	DeviceTypeColdRoom   = "cold-room-sensor"
	DeviceTypeAirQuality = "air-quality-sensor"
	DeviceTypeWaterMeter = "water-meter"
)

// DefaultDevices returns the demo devices registered for a tenant by the
// seed command.
func DefaultDevices(tenantID string) []entities.Device {
	return []entities.Device{
		{ID: tenantID + "-cold-01", TenantID: tenantID, DeviceTypeID: DeviceTypeColdRoom, Name: "Cold room 1"},
		{ID: tenantID + "-cold-02", TenantID: tenantID, DeviceTypeID: DeviceTypeColdRoom, Name: "Cold room 2"},
		{ID: tenantID + "-air-01", TenantID: tenantID, DeviceTypeID: DeviceTypeAirQuality, Name: "Office air quality"},
		{ID: tenantID + "-water-01", TenantID: tenantID, DeviceTypeID: DeviceTypeWaterMeter, Name: "Main water meter"},
	}
}

// DefaultRules returns the demo alert rules for a tenant. They cover device
// and device-type targets, both condition logics, range operators and an
// escalation policy.
func DefaultRules(tenantID string) []entities.AlertRule {
	return []entities.AlertRule{
		{
			TenantID:         tenantID,
			Name:             "Cold room temperature out of range",
			Description:      "Temperature leaves the 0-8 °C storage band",
			TargetType:       entities.TargetTypeDeviceType,
			DeviceTypeIDs:    []string{DeviceTypeColdRoom},
			ConditionLogic:   entities.LogicOr,
			Severity:         entities.SeverityWarning,
			CooldownMinutes:  15,
			DeliveryChannels: []string{"email", "inapp"},
			Recipients:       []string{"ops@" + tenantID + ".example"},
			Enabled:          true,
			Conditions: []entities.AlertCondition{
				{Field: "temperature", Operator: entities.OperatorOutside, Value: "0", SecondValue: "8", Unit: "°C", SortOrder: 0},
				{Field: "temperature", Operator: entities.OperatorGreaterThan, Value: "12", Unit: "°C", Level: entities.SeverityCritical, SortOrder: 1},
			},
			Escalation: &entities.AlertEscalation{
				EscalateAfterMinutes: 30,
				Channels:             []string{"sms", "email"},
				Recipients:           []string{"+15550100", "facilities@" + tenantID + ".example"},
				Message:              "{{rule_name}} still active on {{device_id}}",
				Repeat:               true,
			},
		},
		{
			TenantID:         tenantID,
			Name:             "Poor air quality",
			Description:      "CO2 and humidity both high in the office",
			TargetType:       entities.TargetTypeDevice,
			DeviceIDs:        []string{tenantID + "-air-01"},
			ConditionLogic:   entities.LogicAnd,
			Severity:         entities.SeverityInfo,
			CooldownMinutes:  60,
			DeliveryChannels: []string{"inapp", "webhook"},
			Recipients:       []string{"https://hooks." + tenantID + ".example/air"},
			Enabled:          true,
			Conditions: []entities.AlertCondition{
				{Field: "co2", Operator: entities.OperatorGreaterThan, Value: "1200", Unit: "ppm", SortOrder: 0},
				{Field: "humidity", Operator: entities.OperatorBetween, Value: "60", SecondValue: "100", Unit: "%", SortOrder: 1},
			},
		},
		{
			TenantID:         tenantID,
			Name:             "Water leak suspected",
			Description:      "Continuous flow through the main meter",
			TargetType:       entities.TargetTypeDevice,
			DeviceIDs:        []string{tenantID + "-water-01"},
			ConditionLogic:   entities.LogicAnd,
			Severity:         entities.SeverityCritical,
			CooldownMinutes:  30,
			DeliveryChannels: []string{"sms", "inapp"},
			Recipients:       []string{"+15550100"},
			Enabled:          true,
			Conditions: []entities.AlertCondition{
				{Field: "flow_rate", Operator: entities.OperatorGreaterThan, Value: "0.5", Unit: "l/min", SortOrder: 0},
			},
		},
	}
}
