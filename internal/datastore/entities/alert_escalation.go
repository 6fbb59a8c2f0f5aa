package entities

import (
	"time"

	"gorm.io/datatypes"
)

// AlertEscalation re-notifies with different channels and recipients when an
// alert stays active (unacknowledged) for too long.
type AlertEscalation struct {
	ID                   uint                        `gorm:"primaryKey" json:"id"`
	RuleID               uint                        `gorm:"not null;uniqueIndex" json:"rule_id"`
	EscalateAfterMinutes int                         `gorm:"not null" json:"escalate_after_minutes"`
	Channels             datatypes.JSONSlice[string] `gorm:"type:json" json:"channels"`
	Recipients           datatypes.JSONSlice[string] `gorm:"type:json" json:"recipients"`
	Message              string                      `gorm:"size:1000;default:''" json:"message"`
	Repeat               bool                        `gorm:"not null;default:false" json:"repeat"`
}

// TableName returns the table name for GORM.
func (AlertEscalation) TableName() string {
	return "alert_escalations"
}

// After returns the escalation delay as a duration.
func (e *AlertEscalation) After() time.Duration {
	return time.Duration(e.EscalateAfterMinutes) * time.Minute
}
