package entities

import (
	"time"

	"gorm.io/datatypes"
)

// Alert instance statuses.
const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// OpenStatuses are the statuses of an instance that still needs attention.
var OpenStatuses = []string{StatusActive, StatusAcknowledged}

// AlertInstance is one firing of a rule for one device. At most one open
// (active or acknowledged) instance exists per rule and device.
type AlertInstance struct {
	ID                string            `gorm:"primaryKey;size:36" json:"id"`
	TenantID          string            `gorm:"size:64;not null;index:idx_alert_instances_tenant_device,priority:1" json:"tenant_id"`
	AlertRuleID       uint              `gorm:"not null;index:idx_alert_instances_rule_device,priority:1" json:"alert_rule_id"`
	DeviceID          string            `gorm:"size:64;not null;index:idx_alert_instances_rule_device,priority:2;index:idx_alert_instances_tenant_device,priority:2" json:"device_id"`
	Status            string            `gorm:"size:20;not null;index" json:"status"`
	Severity          string            `gorm:"size:20;not null" json:"severity"`
	Message           string            `gorm:"size:1000;default:''" json:"message"`
	Details           string            `gorm:"type:text" json:"details"`
	FieldValues       datatypes.JSONMap `gorm:"type:json" json:"field_values"`
	TriggeredAt       time.Time         `gorm:"not null;index" json:"triggered_at"`
	AcknowledgedAt    *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string            `gorm:"size:255;default:''" json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	ResolutionReason  string            `gorm:"size:500;default:''" json:"resolution_reason,omitempty"`
	LastEscalatedAt   *time.Time        `json:"last_escalated_at,omitempty"`
	EscalationCount   int               `gorm:"not null;default:0" json:"escalation_count"`
	NotificationCount int               `gorm:"not null;default:0" json:"notification_count"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AlertInstance) TableName() string {
	return "alert_instances"
}

// IsOpen reports whether the instance is active or acknowledged.
func (a *AlertInstance) IsOpen() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}
