package entities

import "time"

// Device is a registered sensor. The engine reads devices to enumerate
// tenants and to expand device-type targets.
type Device struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	TenantID     string    `gorm:"size:64;not null;index:idx_devices_tenant_type,priority:1" json:"tenant_id"`
	DeviceTypeID string    `gorm:"size:64;not null;index:idx_devices_tenant_type,priority:2" json:"device_type_id"`
	Name         string    `gorm:"size:255;default:''" json:"name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}
