package repository

import (
	"context"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// AlertRuleRepository reads alert rules. The engine never mutates rules;
// CreateRule exists for seeding and tests.
type AlertRuleRepository interface {
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, id uint) (*entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error

	// GetEnabledRules returns a tenant's enabled rules with conditions and escalation.
	GetEnabledRules(ctx context.Context, tenantID string) ([]entities.AlertRule, error)

	CountRulesByName(ctx context.Context, tenantID, name string) (int64, error)
}

// AlertRuleFilter controls rule listing queries.
type AlertRuleFilter struct {
	TenantID string
	Enabled  *bool
}
