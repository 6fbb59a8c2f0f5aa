package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/notification"
)

// staticDirectory serves a fixed tenant and device-type layout.
type staticDirectory struct {
	tenants []string
	byType  map[string][]string
	err     error
}

func (d *staticDirectory) ListTenants(context.Context) ([]string, error) {
	return d.tenants, d.err
}

func (d *staticDirectory) DevicesOfType(_ context.Context, _ string, typeIDs ...string) ([]string, error) {
	var out []string
	for _, id := range typeIDs {
		out = append(out, d.byType[id]...)
	}
	return out, nil
}

// ruleMap returns rules per tenant and can panic for one tenant.
type ruleMap struct {
	rules   map[string][]entities.AlertRule
	panicOn string
	failOn  string
}

func (m *ruleMap) GetEnabledRules(_ context.Context, tenantID string) ([]entities.AlertRule, error) {
	if tenantID == m.panicOn {
		panic("corrupt rule row")
	}
	if tenantID == m.failOn {
		return nil, errors.New("rules table locked")
	}
	return m.rules[tenantID], nil
}

// countingNotifier records dispatches without sending anything.
type countingNotifier struct {
	dispatched atomic.Int32
	escalated  atomic.Int32
	deliver    bool
}

func (n *countingNotifier) Dispatch(context.Context, *entities.AlertInstance, *entities.AlertRule) Report {
	n.dispatched.Add(1)
	if n.deliver {
		return Report{Sent: []string{notification.ChannelEmail}}
	}
	return Report{Failed: []string{notification.ChannelEmail}}
}

func (n *countingNotifier) Escalate(context.Context, *entities.AlertInstance, *entities.AlertRule) Report {
	n.escalated.Add(1)
	return Report{Failed: []string{notification.ChannelSMS}}
}

type engineFixture struct {
	engine    *Engine
	instances repository.AlertInstanceRepository
	fetcher   *fakeFetcher
	clock     *fakeClock
	email     *recordingChannel
	webhook   *recordingChannel
	metrics   *Metrics
	rule      *entities.AlertRule
}

// newEngineFixture wires an engine over SQLite repositories with one
// tenant, one device and the tempRule.
func newEngineFixture(t *testing.T, mutate func(*entities.AlertRule)) *engineFixture {
	t.Helper()
	db := setupTestDB(t)
	rules := repository.NewAlertRuleRepository(db)
	instances := repository.NewAlertInstanceRepository(db)
	devices := repository.NewDeviceRepository(db)
	require.NoError(t, devices.SaveDevice(t.Context(), &entities.Device{ID: "sensor-1", TenantID: "tenant-a", DeviceTypeID: "thermo"}))

	rule := tempRule("tenant-a", "sensor-1")
	if mutate != nil {
		mutate(rule)
	}
	require.NoError(t, rules.CreateRule(t.Context(), rule))

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &engineFixture{
		instances: instances,
		fetcher:   newFakeFetcher(),
		clock:     newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		email:     &recordingChannel{name: notification.ChannelEmail},
		webhook:   &recordingChannel{name: notification.ChannelWebhook},
		metrics:   metrics,
		rule:      rule,
	}
	registry := notification.NewRegistry(f.email, f.webhook, &recordingChannel{name: notification.ChannelSMS})
	f.engine = NewEngine(Dependencies{
		Rules:     rules,
		Instances: instances,
		Directory: devices,
		Fetcher:   f.fetcher,
		Notifier:  NewDispatcher(registry, DispatcherOptions{}, metrics, nil, testLogger()),
		Cooldown:  NewCooldownGate(instances),
		Metrics:   metrics,
		Log:       testLogger(),
		Now:       f.clock.Now,
	}, Options{})
	return f
}

func (f *engineFixture) cycle(t *testing.T) CycleStats {
	t.Helper()
	stats, err := f.engine.RunCycle(t.Context())
	require.NoError(t, err)
	return stats
}

func (f *engineFixture) listAll(t *testing.T) []entities.AlertInstance {
	t.Helper()
	items, _, err := f.instances.ListInstances(t.Context(), repository.AlertInstanceFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	return items
}

func TestEngine_TriggerThenAutoResolve(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)

	f.fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	stats := f.cycle(t)
	assert.Equal(t, 1, stats.Triggered)
	assert.Equal(t, 1, stats.Devices)

	items := f.listAll(t)
	require.Len(t, items, 1)
	inst := items[0]
	assert.Equal(t, entities.StatusActive, inst.Status)
	assert.Equal(t, entities.SeverityWarning, inst.Severity)
	assert.Equal(t, "temperature greater_than 80C (value 85C)", inst.Message)
	assert.InDelta(t, 85.0, inst.FieldValues["temperature"], 0)
	assert.Equal(t, 1, inst.NotificationCount)
	assert.Len(t, f.email.Sent(), 1)
	assert.Len(t, f.webhook.Sent(), 1)

	f.clock.Advance(30 * time.Second)
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 70.0})
	stats = f.cycle(t)
	assert.Equal(t, 1, stats.Resolved)

	got, err := f.instances.GetInstance(t.Context(), "tenant-a", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusResolved, got.Status)
	assert.Equal(t, ReasonAutoResolved, got.ResolutionReason)
	require.NotNil(t, got.ResolvedAt)
	assert.Len(t, f.email.Sent(), 1, "auto-resolve sends nothing")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AlertsTriggered.WithLabelValues("warning")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AlertsResolved), 0)
}

func TestEngine_NoDuplicateWhileOpen(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})

	for range 5 {
		f.cycle(t)
		f.clock.Advance(30 * time.Second)
	}

	assert.Len(t, f.listAll(t), 1)
	assert.Len(t, f.email.Sent(), 1)
}

func TestEngine_AcknowledgedStaysOpen(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	f.cycle(t)

	inst := f.listAll(t)[0]
	ok, err := f.instances.Acknowledge(t.Context(), inst.ID, "tenant-a", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(time.Hour)
	f.cycle(t)
	assert.Len(t, f.listAll(t), 1, "acknowledged instance blocks a new trigger")

	f.fetcher.Set("sensor-1", map[string]any{"temperature": 20.0})
	stats := f.cycle(t)
	assert.Equal(t, 1, stats.Resolved)
}

func TestEngine_CooldownSuppressesRetrigger(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)

	f.fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	f.cycle(t)
	f.clock.Advance(time.Minute)
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 70.0})
	f.cycle(t)

	// Re-match 10 minutes after the first trigger: inside the 15 minute cooldown.
	f.clock.Advance(9 * time.Minute)
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 90.0})
	stats := f.cycle(t)
	assert.Equal(t, 1, stats.Suppressed)
	assert.Zero(t, stats.Triggered)
	assert.Len(t, f.listAll(t), 1)

	// 16 minutes after the first trigger the cooldown has passed.
	f.clock.Advance(6 * time.Minute)
	stats = f.cycle(t)
	assert.Equal(t, 1, stats.Triggered)
	assert.Len(t, f.listAll(t), 2)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AlertsSuppressed), 0)
}

func TestEngine_Escalation(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, func(r *entities.AlertRule) {
		r.Escalation = &entities.AlertEscalation{
			EscalateAfterMinutes: 30,
			Channels:             []string{notification.ChannelEmail},
			Recipients:           []string{"manager@example.com"},
			Repeat:               true,
		}
	})
	f.fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	f.cycle(t)

	f.clock.Advance(29 * time.Minute)
	assert.Zero(t, f.cycle(t).Escalated)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.cycle(t).Escalated)

	f.clock.Advance(10 * time.Minute)
	assert.Zero(t, f.cycle(t).Escalated, "repeat waits for another interval")

	f.clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, f.cycle(t).Escalated)

	inst := f.listAll(t)[0]
	assert.Equal(t, 2, inst.EscalationCount)
	assert.Equal(t, 3, inst.NotificationCount)
	require.NotNil(t, inst.LastEscalatedAt)

	sent := f.email.Sent()
	require.Len(t, sent, 3)
	assert.True(t, sent[1].Escalation)
	assert.Equal(t, [][]string{{"ops@example.com"}, {"manager@example.com"}, {"manager@example.com"}}, f.email.targets)
}

func TestEngine_DeviceTypeTargets(t *testing.T) {
	t.Parallel()

	rule := tempRule("tenant-a")
	rule.ID = 1
	rule.TargetType = entities.TargetTypeDeviceType
	rule.DeviceTypeIDs = []string{"thermo"}

	fetcher := newFakeFetcher()
	fetcher.Set("t-1", map[string]any{"temperature": 90.0})
	fetcher.Set("t-2", map[string]any{"temperature": 50.0})
	// t-3 reports nothing and is skipped.

	store := newMemoryStore()
	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{rules: map[string][]entities.AlertRule{"tenant-a": {*rule}}},
		Instances: store,
		Directory: &staticDirectory{tenants: []string{"tenant-a"}, byType: map[string][]string{"thermo": {"t-1", "t-2", "t-3"}}},
		Fetcher:   fetcher,
		Notifier:  &countingNotifier{deliver: true},
		Cooldown:  NewCooldownGate(store),
		Log:       testLogger(),
	}, Options{})

	stats, err := engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Devices)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Triggered)
	assert.Equal(t, []string{"t-1"}, store.devicesWithInstances())
}

func TestEngine_TenantFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	rule := tempRule("tenant-ok", "sensor-ok")
	rule.ID = 1
	fetcher := newFakeFetcher()
	fetcher.Set("sensor-ok", map[string]any{"temperature": 99.0})
	store := newMemoryStore()

	engine := NewEngine(Dependencies{
		Rules: &ruleMap{
			rules:   map[string][]entities.AlertRule{"tenant-ok": {*rule}},
			panicOn: "tenant-panic",
			failOn:  "tenant-fail",
		},
		Instances: store,
		Directory: &staticDirectory{tenants: []string{"tenant-fail", "tenant-panic", "tenant-ok"}},
		Fetcher:   fetcher,
		Notifier:  &countingNotifier{deliver: true},
		Cooldown:  NewCooldownGate(store),
		Log:       testLogger(),
	}, Options{TenantConcurrency: 2})

	stats, err := engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Tenants)
	assert.Equal(t, 2, stats.TenantErrors)
	assert.Equal(t, 1, stats.Triggered)
}

func TestEngine_ListTenantsErrorAbortsCycle(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{},
		Instances: newMemoryStore(),
		Directory: &staticDirectory{err: errors.New("connection refused")},
		Fetcher:   newFakeFetcher(),
		Notifier:  &countingNotifier{},
		Cooldown:  NewCooldownGate(newMemoryStore()),
		Log:       testLogger(),
	}, Options{})

	_, err := engine.RunCycle(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEngine_UndeliveredTriggerKeepsCountAtZero(t *testing.T) {
	t.Parallel()

	rule := tempRule("tenant-a", "sensor-1")
	rule.ID = 1
	fetcher := newFakeFetcher()
	fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	store := newMemoryStore()
	notifier := &countingNotifier{deliver: false}

	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{rules: map[string][]entities.AlertRule{"tenant-a": {*rule}}},
		Instances: store,
		Directory: &staticDirectory{tenants: []string{"tenant-a"}},
		Fetcher:   fetcher,
		Notifier:  notifier,
		Cooldown:  NewCooldownGate(store),
		Log:       testLogger(),
	}, Options{})

	stats, err := engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Triggered)
	assert.Equal(t, int32(1), notifier.dispatched.Load())
	assert.Zero(t, store.notificationCount())
}

func TestEngine_CooldownErrorSuppresses(t *testing.T) {
	t.Parallel()

	rule := tempRule("tenant-a", "sensor-1")
	rule.ID = 1
	fetcher := newFakeFetcher()
	fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	store := newMemoryStore()
	notifier := &countingNotifier{deliver: true}

	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{rules: map[string][]entities.AlertRule{"tenant-a": {*rule}}},
		Instances: store,
		Directory: &staticDirectory{tenants: []string{"tenant-a"}},
		Fetcher:   fetcher,
		Notifier:  notifier,
		Cooldown:  NewCooldownGate(stubHistory{err: errors.New("timeout")}),
		Log:       testLogger(),
	}, Options{})

	stats, err := engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Triggered)
	assert.Zero(t, notifier.dispatched.Load())
}

// flakyEscalationStore fails RecordEscalation while failing is set.
type flakyEscalationStore struct {
	*memoryStore
	failing atomic.Bool
}

func (s *flakyEscalationStore) RecordEscalation(ctx context.Context, id string, at time.Time) error {
	if s.failing.Load() {
		return errors.New("database is locked")
	}
	return s.memoryStore.RecordEscalation(ctx, id, at)
}

func TestEngine_EscalationSkippedWhenRecordFails(t *testing.T) {
	t.Parallel()

	rule := tempRule("tenant-a", "sensor-1")
	rule.ID = 1
	rule.Escalation = &entities.AlertEscalation{
		EscalateAfterMinutes: 30,
		Channels:             []string{notification.ChannelSMS},
		Recipients:           []string{"+15550100"},
	}
	fetcher := newFakeFetcher()
	fetcher.Set("sensor-1", map[string]any{"temperature": 85.0})
	store := &flakyEscalationStore{memoryStore: newMemoryStore()}
	notifier := &countingNotifier{deliver: true}
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{rules: map[string][]entities.AlertRule{"tenant-a": {*rule}}},
		Instances: store,
		Directory: &staticDirectory{tenants: []string{"tenant-a"}},
		Fetcher:   fetcher,
		Notifier:  notifier,
		Cooldown:  NewCooldownGate(store),
		Log:       testLogger(),
		Now:       clock.Now,
	}, Options{})

	stats, err := engine.RunCycle(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Triggered)

	store.failing.Store(true)
	clock.Advance(31 * time.Minute)
	for range 3 {
		stats, err = engine.RunCycle(t.Context())
		require.NoError(t, err)
		assert.Zero(t, stats.Escalated)
		clock.Advance(time.Minute)
	}
	assert.Zero(t, notifier.escalated.Load(), "nothing is sent while the escalation cannot be recorded")

	store.failing.Store(false)
	stats, err = engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)

	stats, err = engine.RunCycle(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Escalated, "without repeat the escalation fires once")
	assert.Equal(t, int32(1), notifier.escalated.Load())
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fetcher := newFakeFetcher()
	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{},
		Instances: newMemoryStore(),
		Directory: &staticDirectory{tenants: []string{"tenant-a"}},
		Fetcher:   fetcher,
		Notifier:  &countingNotifier{},
		Cooldown:  NewCooldownGate(newMemoryStore()),
		Log:       testLogger(),
	}, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestEngine_RunBacksOffAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := &countingTenantDirectory{err: errors.New("db down")}
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	engine := NewEngine(Dependencies{
		Rules:     &ruleMap{},
		Instances: newMemoryStore(),
		Directory: dir,
		Fetcher:   newFakeFetcher(),
		Notifier:  &countingNotifier{},
		Cooldown:  NewCooldownGate(newMemoryStore()),
		Metrics:   metrics,
		Log:       testLogger(),
	}, Options{Interval: time.Hour, ErrorBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool { return dir.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.CycleErrors), 3.0)
}

type countingTenantDirectory struct {
	calls atomic.Int32
	err   error
}

func (d *countingTenantDirectory) ListTenants(context.Context) ([]string, error) {
	d.calls.Add(1)
	return nil, d.err
}

func (d *countingTenantDirectory) DevicesOfType(context.Context, string, ...string) ([]string, error) {
	return nil, nil
}

func TestKeyedMutex(t *testing.T) {
	t.Parallel()

	var k keyedMutex
	var wg sync.WaitGroup
	var inside, maxInside atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(lockKey(1, "sensor-1"))
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, k.locks, "unused keys are released")
}

// memoryStore is an in-memory InstanceStore and TriggerHistory.
type memoryStore struct {
	mu    sync.Mutex
	items []entities.AlertInstance
	seq   int
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (s *memoryStore) GetActiveByDevice(_ context.Context, tenantID, deviceID string) ([]entities.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.AlertInstance
	for _, it := range s.items {
		if it.TenantID == tenantID && it.DeviceID == deviceID && it.IsOpen() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateInstance(_ context.Context, inst *entities.AlertInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.AlertRuleID == inst.AlertRuleID && it.DeviceID == inst.DeviceID && it.IsOpen() {
			return repository.ErrActiveInstanceExists
		}
	}
	s.seq++
	inst.ID = string(rune('a' + s.seq))
	s.items = append(s.items, *inst)
	return nil
}

func (s *memoryStore) Resolve(_ context.Context, id, tenantID, reason string) (bool, error) {
	return s.update(id, func(it *entities.AlertInstance) bool {
		if it.TenantID != tenantID || !it.IsOpen() {
			return false
		}
		it.Status = entities.StatusResolved
		it.ResolutionReason = reason
		return true
	})
}

func (s *memoryStore) RecordEscalation(_ context.Context, id string, at time.Time) error {
	_, err := s.update(id, func(it *entities.AlertInstance) bool {
		it.EscalationCount++
		it.LastEscalatedAt = &at
		return true
	})
	return err
}

func (s *memoryStore) IncrementNotificationCount(_ context.Context, id string) error {
	_, err := s.update(id, func(it *entities.AlertInstance) bool {
		it.NotificationCount++
		return true
	})
	return err
}

func (s *memoryStore) MostRecentByRuleAndDevice(_ context.Context, ruleID uint, deviceID string) (*entities.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *entities.AlertInstance
	for i := range s.items {
		it := s.items[i]
		if it.AlertRuleID == ruleID && it.DeviceID == deviceID && (last == nil || it.TriggeredAt.After(last.TriggeredAt)) {
			last = &it
		}
	}
	return last, nil
}

func (s *memoryStore) update(id string, fn func(*entities.AlertInstance) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			return fn(&s.items[i]), nil
		}
	}
	return false, repository.ErrAlertInstanceNotFound
}

func (s *memoryStore) devicesWithInstances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, it := range s.items {
		out = append(out, it.DeviceID)
	}
	return out
}

func (s *memoryStore) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, it := range s.items {
		total += it.NotificationCount
	}
	return total
}
