package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// setupTestDB creates an in-memory SQLite database named after the test.
// Uses shared-cache mode with a single connection so every query sees the
// same database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.Device{},
		&entities.AlertRule{},
		&entities.AlertCondition{},
		&entities.AlertEscalation{},
		&entities.AlertInstance{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

// createTestRule creates an enabled temperature rule for a tenant.
func createTestRule(t *testing.T, repo AlertRuleRepository, tenantID, name string) *entities.AlertRule {
	t.Helper()
	rule := &entities.AlertRule{
		TenantID:         tenantID,
		Name:             name,
		TargetType:       entities.TargetTypeDevice,
		DeviceIDs:        []string{"sensor-1", "sensor-2"},
		ConditionLogic:   entities.LogicAnd,
		Severity:         entities.SeverityWarning,
		CooldownMinutes:  15,
		DeliveryChannels: []string{"email", "webhook"},
		Recipients:       []string{"ops@example.com", "https://hooks.example.com/a"},
		Enabled:          true,
		Conditions: []entities.AlertCondition{
			{Field: "temperature", Operator: entities.OperatorGreaterThan, Value: "80", SortOrder: 0},
		},
	}
	require.NoError(t, repo.CreateRule(t.Context(), rule))
	return rule
}
