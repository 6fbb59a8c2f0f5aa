package entities

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Rule target types.
const (
	TargetTypeDevice     = "device"
	TargetTypeDeviceType = "device_type"
)

// Severity levels, ordered from least to most severe.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Condition logic values. Anything other than AND is treated as OR.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// AlertRule is a tenant-scoped rule evaluated against device telemetry.
// The engine only reads rules; they are managed by the tenant-facing API.
type AlertRule struct {
	ID                     uint                        `gorm:"primaryKey" json:"id"`
	TenantID               string                      `gorm:"size:64;not null;index:idx_alert_rules_tenant_enabled,priority:1" json:"tenant_id"`
	Name                   string                      `gorm:"size:255;not null" json:"name"`
	Description            string                      `gorm:"size:1000;default:''" json:"description"`
	TargetType             string                      `gorm:"size:20;not null" json:"target_type"`
	DeviceIDs              datatypes.JSONSlice[string] `gorm:"type:json" json:"device_ids"`
	DeviceTypeIDs          datatypes.JSONSlice[string] `gorm:"type:json" json:"device_type_ids"`
	ConditionLogic         string                      `gorm:"size:3;not null;default:'AND'" json:"condition_logic"`
	Severity               string                      `gorm:"size:20;not null;default:'warning'" json:"severity"`
	TimeWindowSec          int                         `gorm:"default:0" json:"time_window_sec"`
	EvaluationFrequencySec int                         `gorm:"default:0" json:"evaluation_frequency_sec"`
	CooldownMinutes        int                         `gorm:"not null;default:0" json:"cooldown_minutes"`
	DeliveryChannels       datatypes.JSONSlice[string] `gorm:"type:json" json:"delivery_channels"`
	Recipients             datatypes.JSONSlice[string] `gorm:"type:json" json:"recipients"`
	Enabled                bool                        `gorm:"not null;index:idx_alert_rules_tenant_enabled,priority:2" json:"enabled"`
	CreatedAt              time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
	Conditions             []AlertCondition            `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"conditions"`
	Escalation             *AlertEscalation            `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"escalation,omitempty"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// IsAnd reports whether conditions are AND-reduced.
func (r *AlertRule) IsAnd() bool {
	return strings.EqualFold(strings.TrimSpace(r.ConditionLogic), LogicAnd)
}

// Cooldown returns the rule's cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Validate reports structural problems with a rule. The engine tolerates
// invalid rules; this is used when rules are created.
func (r *AlertRule) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("rule %q: tenant_id is required", r.Name)
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.TargetType {
	case TargetTypeDevice:
		if len(r.DeviceIDs) == 0 {
			return fmt.Errorf("rule %q: device_ids is required for target type %s", r.Name, r.TargetType)
		}
	case TargetTypeDeviceType:
		if len(r.DeviceTypeIDs) == 0 {
			return fmt.Errorf("rule %q: device_type_ids is required for target type %s", r.Name, r.TargetType)
		}
	default:
		return fmt.Errorf("rule %q: unknown target type %q", r.Name, r.TargetType)
	}
	if !IsSeverity(r.Severity) {
		return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("rule %q: cooldown_minutes must not be negative", r.Name)
	}
	if r.Enabled && len(r.Conditions) == 0 {
		return fmt.Errorf("rule %q: enabled rules need at least one condition", r.Name)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("rule %q: condition %d: %w", r.Name, i, err)
		}
	}
	if r.Escalation != nil && r.Escalation.EscalateAfterMinutes <= 0 {
		return fmt.Errorf("rule %q: escalate_after_minutes must be positive", r.Name)
	}
	return nil
}

// IsSeverity reports whether s is a known severity level.
func IsSeverity(s string) bool {
	return SeverityRank(s) > 0
}

// SeverityRank orders severities; unknown values rank 0.
func SeverityRank(s string) int {
	switch strings.ToLower(s) {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}
