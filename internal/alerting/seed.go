package alerting

import (
	"context"
	"fmt"

	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/logger"
)

// SeedResult counts what a seed run wrote.
type SeedResult struct {
	Devices int
	Rules   int
}

// SeedTenant registers the demo devices and rules for a tenant. Rules are
// matched by name, so a partial seed from an earlier run completes on the
// next one and repeated runs create nothing.
func SeedTenant(ctx context.Context, devices repository.DeviceRepository, rules repository.AlertRuleRepository, tenantID string, log logger.Logger) (SeedResult, error) {
	var result SeedResult

	for _, d := range DefaultDevices(tenantID) {
		if err := devices.SaveDevice(ctx, &d); err != nil {
			return result, fmt.Errorf("failed to save device %s: %w", d.ID, err)
		}
		result.Devices++
	}

	defaults := DefaultRules(tenantID)
	for i := range defaults {
		rule := &defaults[i]
		if err := rule.Validate(); err != nil {
			return result, err
		}
		n, err := rules.CountRulesByName(ctx, tenantID, rule.Name)
		if err != nil {
			return result, err
		}
		if n > 0 {
			continue
		}
		if err := rules.CreateRule(ctx, rule); err != nil {
			return result, fmt.Errorf("failed to create rule %q: %w", rule.Name, err)
		}
		result.Rules++
	}

	if result.Rules > 0 {
		log.Info("seeded demo alert rules",
			logger.String("tenant_id", tenantID),
			logger.Int("created", result.Rules))
	}
	return result, nil
}
