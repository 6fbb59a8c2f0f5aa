package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/errors"
)

// alertInstanceRepository implements AlertInstanceRepository.
type alertInstanceRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAlertInstanceRepository creates a new AlertInstanceRepository.
func NewAlertInstanceRepository(db *gorm.DB) AlertInstanceRepository {
	return &alertInstanceRepository{db: db, now: time.Now}
}

// GetActiveByDevice returns open instances for a device, oldest first.
func (r *alertInstanceRepository) GetActiveByDevice(ctx context.Context, tenantID, deviceID string) ([]entities.AlertInstance, error) {
	var items []entities.AlertInstance
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND status IN ?", tenantID, deviceID, entities.OpenStatuses).
		Order("triggered_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open alert instances for device %s: %w", deviceID, err)
	}
	return items, nil
}

// CreateInstance inserts a new instance, refusing duplicates for the same
// rule and device inside one transaction.
func (r *alertInstanceRepository) CreateInstance(ctx context.Context, inst *entities.AlertInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.Status == "" {
		inst.Status = entities.StatusActive
	}
	if inst.TriggeredAt.IsZero() {
		inst.TriggeredAt = r.now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&entities.AlertInstance{}).
			Where("alert_rule_id = ? AND device_id = ? AND status IN ?", inst.AlertRuleID, inst.DeviceID, entities.OpenStatuses)
		if tx.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var open int64
		if err := query.Count(&open).Error; err != nil {
			return fmt.Errorf("failed to check open alert instances: %w", err)
		}
		if open > 0 {
			return ErrActiveInstanceExists
		}
		if err := tx.Create(inst).Error; err != nil {
			return fmt.Errorf("failed to create alert instance: %w", err)
		}
		return nil
	})
}

// Resolve transitions an open instance to resolved.
func (r *alertInstanceRepository) Resolve(ctx context.Context, id, tenantID, reason string) (bool, error) {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&entities.AlertInstance{}).
		Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, entities.OpenStatuses).
		Updates(map[string]any{
			"status":            entities.StatusResolved,
			"resolved_at":       now,
			"resolution_reason": reason,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to resolve alert instance %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Acknowledge transitions an active instance to acknowledged.
func (r *alertInstanceRepository) Acknowledge(ctx context.Context, id, tenantID, by string) (bool, error) {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&entities.AlertInstance{}).
		Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, entities.StatusActive).
		Updates(map[string]any{
			"status":          entities.StatusAcknowledged,
			"acknowledged_at": now,
			"acknowledged_by": by,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acknowledge alert instance %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MostRecentByRuleAndDevice returns the newest instance for the pair or nil.
func (r *alertInstanceRepository) MostRecentByRuleAndDevice(ctx context.Context, ruleID uint, deviceID string) (*entities.AlertInstance, error) {
	var items []entities.AlertInstance
	err := r.db.WithContext(ctx).
		Where("alert_rule_id = ? AND device_id = ?", ruleID, deviceID).
		Order("triggered_at DESC").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest alert instance for rule %d: %w", ruleID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// RecordEscalation stamps the escalation time and bumps the counter.
func (r *alertInstanceRepository) RecordEscalation(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertInstance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_escalated_at": at.UTC(),
			"escalation_count":  gorm.Expr("escalation_count + ?", 1),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record escalation for alert instance %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertInstanceNotFound
	}
	return nil
}

// IncrementNotificationCount bumps the number of dispatches for an instance.
func (r *alertInstanceRepository) IncrementNotificationCount(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertInstance{}).
		Where("id = ?", id).
		UpdateColumn("notification_count", gorm.Expr("notification_count + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to increment notification count for alert instance %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertInstanceNotFound
	}
	return nil
}

// GetInstance returns a tenant's instance by ID.
// Returns ErrAlertInstanceNotFound if it does not exist.
func (r *alertInstanceRepository) GetInstance(ctx context.Context, tenantID, id string) (*entities.AlertInstance, error) {
	var inst entities.AlertInstance
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get alert instance %s: %w", id, err)
	}
	return &inst, nil
}

// ListInstances returns instances matching the filter, newest first, with
// the total count before pagination.
func (r *alertInstanceRepository) ListInstances(ctx context.Context, filter AlertInstanceFilter) ([]entities.AlertInstance, int64, error) {
	var items []entities.AlertInstance
	var total int64

	scoped := func(db *gorm.DB) *gorm.DB {
		if filter.TenantID != "" {
			db = db.Where("tenant_id = ?", filter.TenantID)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.RuleID > 0 {
			db = db.Where("alert_rule_id = ?", filter.RuleID)
		}
		if filter.DeviceID != "" {
			db = db.Where("device_id = ?", filter.DeviceID)
		}
		return db
	}

	if err := r.db.WithContext(ctx).Model(&entities.AlertInstance{}).Scopes(scoped).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert instances: %w", err)
	}

	query := r.db.WithContext(ctx).Scopes(scoped).Order("triggered_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert instances: %w", err)
	}
	return items, total, nil
}
