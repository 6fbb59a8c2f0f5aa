package repository

import (
	"context"
	"time"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// AlertInstanceRepository persists alert instances. Instances are never deleted.
type AlertInstanceRepository interface {
	// GetActiveByDevice returns the device's active and acknowledged instances.
	GetActiveByDevice(ctx context.Context, tenantID, deviceID string) ([]entities.AlertInstance, error)

	// CreateInstance inserts inst unless the rule already has an open
	// instance for the device, in which case ErrActiveInstanceExists is returned.
	CreateInstance(ctx context.Context, inst *entities.AlertInstance) error

	// Resolve marks an open instance resolved. It reports false when no open
	// instance matched.
	Resolve(ctx context.Context, id, tenantID, reason string) (bool, error)

	// Acknowledge marks an active instance acknowledged. It reports false
	// when no active instance matched.
	Acknowledge(ctx context.Context, id, tenantID, by string) (bool, error)

	// MostRecentByRuleAndDevice returns the latest instance regardless of
	// status, or nil when the rule never fired for the device.
	MostRecentByRuleAndDevice(ctx context.Context, ruleID uint, deviceID string) (*entities.AlertInstance, error)

	RecordEscalation(ctx context.Context, id string, at time.Time) error
	IncrementNotificationCount(ctx context.Context, id string) error

	GetInstance(ctx context.Context, tenantID, id string) (*entities.AlertInstance, error)
	ListInstances(ctx context.Context, filter AlertInstanceFilter) ([]entities.AlertInstance, int64, error)
}

// AlertInstanceFilter controls instance listing queries.
type AlertInstanceFilter struct {
	TenantID string
	Status   string
	RuleID   uint
	DeviceID string
	Limit    int
	Offset   int
}
