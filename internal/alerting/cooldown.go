package alerting

import (
	"context"
	"time"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// TriggerHistory returns the latest instance of a rule on a device.
type TriggerHistory interface {
	MostRecentByRuleAndDevice(ctx context.Context, ruleID uint, deviceID string) (*entities.AlertInstance, error)
}

// CooldownGate suppresses triggers that follow the previous one too closely.
// It reads persisted history, so cooldowns survive restarts.
type CooldownGate struct {
	history TriggerHistory
}

// NewCooldownGate creates a gate over the given history.
func NewCooldownGate(history TriggerHistory) *CooldownGate {
	return &CooldownGate{history: history}
}

// ShouldSuppress reports whether a trigger of rule on deviceID at now falls
// inside the cooldown of the most recent instance, whatever its status.
func (g *CooldownGate) ShouldSuppress(ctx context.Context, rule *entities.AlertRule, deviceID string, now time.Time) (bool, error) {
	if rule.CooldownMinutes <= 0 {
		return false, nil
	}
	last, err := g.history.MostRecentByRuleAndDevice(ctx, rule.ID, deviceID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return InCooldown(last.TriggeredAt, rule.Cooldown(), now), nil
}

// InCooldown reports whether now is less than cooldown after last.
func InCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	return cooldown > 0 && now.Sub(last) < cooldown
}
