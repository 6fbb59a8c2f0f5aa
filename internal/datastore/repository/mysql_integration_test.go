//go:build integration

package repository

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sensorhub/alert-engine/internal/datastore"
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/testutil/containers"
)

var mysqlContainer *containers.MySQLContainer

func TestMain(m *testing.M) {
	var err error
	mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
	if err != nil {
		log.Fatalf("failed to start MySQL: %v", err)
	}
	code := m.Run()
	_ = mysqlContainer.Terminate()
	os.Exit(code)
}

func setupMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	db := mysqlContainer.Gorm(t)
	require.NoError(t, datastore.Migrate(db))
	require.NoError(t, mysqlContainer.Reset(t.Context(),
		"alert_instances", "alert_escalations", "alert_conditions", "alert_rules", "devices"))
	return db
}

func TestMySQL_RuleRoundTripWithAssociations(t *testing.T) {
	db := setupMySQL(t)
	repo := NewAlertRuleRepository(db)

	rule := createTestRule(t, repo, "tenant-a", "Freezer")
	got, err := repo.GetRule(t.Context(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sensor-1", "sensor-2"}, []string(got.DeviceIDs))
	require.Len(t, got.Conditions, 1)
	assert.Equal(t, "temperature", got.Conditions[0].Field)
}

func TestMySQL_ConcurrentCreateKeepsOneOpenInstance(t *testing.T) {
	db := setupMySQL(t)
	rule := createTestRule(t, NewAlertRuleRepository(db), "tenant-a", "Freezer")
	repo := NewAlertInstanceRepository(db)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateInstance(t.Context(), &entities.AlertInstance{
				TenantID:    "tenant-a",
				AlertRuleID: rule.ID,
				DeviceID:    "sensor-1",
				Severity:    entities.SeverityWarning,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrActiveInstanceExists):
				dupes++
			default:
				// InnoDB may abort one side of a gap-lock deadlock; it never creates a row.
				t.Logf("create failed: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	open, err := repo.GetActiveByDevice(t.Context(), "tenant-a", "sensor-1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMySQL_ResolveIsTenantScoped(t *testing.T) {
	db := setupMySQL(t)
	rule := createTestRule(t, NewAlertRuleRepository(db), "tenant-a", "Freezer")
	repo := NewAlertInstanceRepository(db)

	inst := &entities.AlertInstance{TenantID: "tenant-a", AlertRuleID: rule.ID, DeviceID: "sensor-1", Severity: entities.SeverityWarning}
	require.NoError(t, repo.CreateInstance(t.Context(), inst))

	ok, err := repo.Resolve(t.Context(), inst.ID, "tenant-b", "wrong tenant")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Resolve(t.Context(), inst.ID, "tenant-a", "fixed")
	require.NoError(t, err)
	assert.True(t, ok)
}
