package alerting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sensorhub/alert-engine/internal/conf"
	"github.com/sensorhub/alert-engine/internal/datastore"
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/logger"
	"github.com/sensorhub/alert-engine/internal/notification"
	"github.com/sensorhub/alert-engine/internal/telemetry"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// setupTestDB opens a migrated in-memory SQLite database named after the test.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := datastore.Open(conf.DatabaseSettings{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })
	require.NoError(t, datastore.Migrate(db))
	return db
}

// fakeClock is a settable clock for engine tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFetcher returns a per-device snapshot that tests can change between cycles.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]map[string]any
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: make(map[string]map[string]any)}
}

func (f *fakeFetcher) Set(deviceID string, values map[string]any) {
	f.mu.Lock()
	f.data[deviceID] = values
	f.mu.Unlock()
}

func (f *fakeFetcher) Latest(_ context.Context, _, deviceID string) telemetry.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return telemetry.SnapshotFromMap(f.data[deviceID])
}

// recordingChannel captures sent messages and can be told to fail or panic.
type recordingChannel struct {
	name    string
	err     error
	panics  bool
	block   bool
	mu      sync.Mutex
	sent    []*notification.Message
	targets [][]string
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, msg *notification.Message, recipients []string) error {
	if c.panics {
		panic("channel exploded")
	}
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	c.targets = append(c.targets, recipients)
	return nil
}

func (c *recordingChannel) Sent() []*notification.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*notification.Message(nil), c.sent...)
}

// tempRule is an enabled single-device rule that fires above 80 degrees.
func tempRule(tenantID string, deviceIDs ...string) *entities.AlertRule {
	return &entities.AlertRule{
		TenantID:         tenantID,
		Name:             "High temperature",
		TargetType:       entities.TargetTypeDevice,
		DeviceIDs:        deviceIDs,
		ConditionLogic:   entities.LogicAnd,
		Severity:         entities.SeverityWarning,
		CooldownMinutes:  15,
		DeliveryChannels: []string{notification.ChannelEmail, notification.ChannelWebhook},
		Recipients:       []string{"ops@example.com", "https://hooks.example.com/alerts"},
		Enabled:          true,
		Conditions: []entities.AlertCondition{
			{Field: "temperature", Operator: entities.OperatorGreaterThan, Value: "80", Unit: "C"},
		},
	}
}
