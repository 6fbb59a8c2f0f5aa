package alerting

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
	"github.com/sensorhub/alert-engine/internal/telemetry"
)

// RuleSource returns a tenant's enabled rules.
type RuleSource interface {
	GetEnabledRules(ctx context.Context, tenantID string) ([]entities.AlertRule, error)
}

// InstanceStore is the part of the instance repository the engine writes through.
type InstanceStore interface {
	GetActiveByDevice(ctx context.Context, tenantID, deviceID string) ([]entities.AlertInstance, error)
	CreateInstance(ctx context.Context, inst *entities.AlertInstance) error
	Resolve(ctx context.Context, id, tenantID, reason string) (bool, error)
	RecordEscalation(ctx context.Context, id string, at time.Time) error
	IncrementNotificationCount(ctx context.Context, id string) error
}

// Notifier delivers trigger and escalation notifications.
type Notifier interface {
	Dispatch(ctx context.Context, inst *entities.AlertInstance, rule *entities.AlertRule) Report
	Escalate(ctx context.Context, inst *entities.AlertInstance, rule *entities.AlertRule) Report
}

// Suppressor decides whether a trigger falls inside the rule's cooldown.
type Suppressor interface {
	ShouldSuppress(ctx context.Context, rule *entities.AlertRule, deviceID string, now time.Time) (bool, error)
}

// Dependencies are the collaborators of an Engine.
type Dependencies struct {
	Rules     RuleSource
	Instances InstanceStore
	Directory repository.DeviceDirectory
	Fetcher   telemetry.Fetcher
	Notifier  Notifier
	Cooldown  Suppressor
	Metrics   *Metrics
	Reporter  errors.Reporter
	Log       logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Options tunes the evaluation loop.
type Options struct {
	Interval          time.Duration
	ErrorBackoff      time.Duration
	FetchTimeout      time.Duration
	StoreTimeout      time.Duration
	TenantConcurrency int
}

// DefaultOptions returns the standard 30 second loop settings.
func DefaultOptions() Options {
	return Options{
		Interval:          30 * time.Second,
		ErrorBackoff:      10 * time.Second,
		FetchTimeout:      5 * time.Second,
		StoreTimeout:      5 * time.Second,
		TenantConcurrency: 1,
	}
}

// CycleStats counts what happened during one evaluation cycle.
type CycleStats struct {
	Tenants      int
	TenantErrors int
	Rules        int
	Devices      int
	Skipped      int
	Triggered    int
	Suppressed   int
	Resolved     int
	Escalated    int
	Duration     time.Duration
}

// cycleCounters is the concurrent accumulator behind CycleStats.
type cycleCounters struct {
	tenantErrors, rules, devices, skipped      atomic.Int64
	triggered, suppressed, resolved, escalated atomic.Int64
}

func (c *cycleCounters) stats(tenants int, d time.Duration) CycleStats {
	return CycleStats{
		Tenants:      tenants,
		TenantErrors: int(c.tenantErrors.Load()),
		Rules:        int(c.rules.Load()),
		Devices:      int(c.devices.Load()),
		Skipped:      int(c.skipped.Load()),
		Triggered:    int(c.triggered.Load()),
		Suppressed:   int(c.suppressed.Load()),
		Resolved:     int(c.resolved.Load()),
		Escalated:    int(c.escalated.Load()),
		Duration:     d,
	}
}

// Engine polls telemetry for every tenant's enabled rules and drives the
// alert instance lifecycle. Engines hold no global state.
type Engine struct {
	deps  Dependencies
	opts  Options
	log   logger.Logger
	locks keyedMutex
}

// NewEngine creates an engine. Zero options take their defaults.
func NewEngine(deps Dependencies, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.TenantConcurrency <= 0 {
		opts.TenantConcurrency = def.TenantConcurrency
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Reporter == nil {
		deps.Reporter = errors.NopReporter{}
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics, _ = NewMetrics(nil)
	}
	return &Engine{
		deps: deps,
		opts: opts,
		log:  deps.Log.Module("engine"),
	}
}

// Run evaluates cycles until ctx is cancelled. A failed cycle is followed
// by the error backoff instead of the regular interval.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("alert engine started",
		logger.Duration("interval", e.opts.Interval),
		logger.Int("tenant_concurrency", e.opts.TenantConcurrency))
	defer e.log.Info("alert engine stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := e.opts.Interval
		if _, err := e.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.deps.Metrics.CycleErrors.Inc()
			e.deps.Reporter.Report(err)
			e.log.Error("evaluation cycle failed", logger.Error(err))
			wait = e.opts.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// safeCycle runs one cycle, turning a panic into an error.
func (e *Engine) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("evaluation cycle panicked: %v", r).
				Component("engine").
				Category(errors.CategoryInternal).
				Context("stack", string(debug.Stack())).
				Build()
		}
	}()
	return e.RunCycle(ctx)
}

// RunCycle evaluates every tenant once. It fails only when the tenant list
// cannot be read or ctx is cancelled; tenant failures are isolated and
// counted in the stats.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	start := e.deps.Now()
	e.deps.Metrics.Cycles.Inc()

	tenants, err := e.listTenants(ctx)
	if err != nil {
		return CycleStats{}, err
	}

	var counters cycleCounters
	g := new(errgroup.Group)
	g.SetLimit(e.opts.TenantConcurrency)
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := e.safeTenant(ctx, tenantID, &counters); err != nil {
				counters.tenantErrors.Add(1)
				e.deps.Metrics.TenantErrors.Inc()
				if ctx.Err() == nil {
					e.deps.Reporter.Report(err)
					e.log.Error("tenant evaluation failed",
						logger.String("tenant_id", tenantID),
						logger.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := e.deps.Now().Sub(start)
	e.deps.Metrics.CycleDuration.Observe(elapsed.Seconds())
	stats := counters.stats(len(tenants), elapsed)
	e.log.Debug("evaluation cycle completed",
		logger.Int("tenants", stats.Tenants),
		logger.Int("rules", stats.Rules),
		logger.Int("devices", stats.Devices),
		logger.Int("triggered", stats.Triggered),
		logger.Int("resolved", stats.Resolved),
		logger.Int("escalated", stats.Escalated),
		logger.Duration("duration", elapsed))

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *Engine) listTenants(ctx context.Context) ([]string, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tenants, err := e.deps.Directory.ListTenants(sctx)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("failed to list tenants: %w", err)).
			Component("engine").
			Category(errors.CategoryDatabase).
			Build()
	}
	return tenants, nil
}

// safeTenant evaluates one tenant, turning a panic into an error.
func (e *Engine) safeTenant(ctx context.Context, tenantID string, c *cycleCounters) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("tenant evaluation panicked: %v", r).
				Component("engine").
				Category(errors.CategoryInternal).
				Context("tenant_id", tenantID).
				Context("stack", string(debug.Stack())).
				Build()
		}
	}()
	return e.evaluateTenant(ctx, tenantID, c)
}

func (e *Engine) evaluateTenant(ctx context.Context, tenantID string, c *cycleCounters) error {
	sctx, cancel := e.storeCtx(ctx)
	rules, err := e.deps.Rules.GetEnabledRules(sctx, tenantID)
	cancel()
	if err != nil {
		return errors.Wrap(fmt.Errorf("failed to load rules: %w", err)).
			Component("engine").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Build()
	}

	for i := range rules {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rule := &rules[i]
		c.rules.Add(1)

		devices, err := e.targets(ctx, tenantID, rule)
		if err != nil {
			e.log.Error("failed to resolve rule targets",
				logger.String("tenant_id", tenantID),
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Error(err))
			continue
		}
		for _, deviceID := range devices {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.evaluateDevice(ctx, tenantID, rule, deviceID, c)
		}
	}
	return nil
}

// targets resolves the devices a rule applies to.
func (e *Engine) targets(ctx context.Context, tenantID string, rule *entities.AlertRule) ([]string, error) {
	switch rule.TargetType {
	case entities.TargetTypeDevice:
		return rule.DeviceIDs, nil
	case entities.TargetTypeDeviceType:
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		return e.deps.Directory.DevicesOfType(sctx, tenantID, rule.DeviceTypeIDs...)
	default:
		return nil, fmt.Errorf("unknown target type %q", rule.TargetType)
	}
}

func (e *Engine) evaluateDevice(ctx context.Context, tenantID string, rule *entities.AlertRule, deviceID string, c *cycleCounters) {
	log := e.log.With(
		logger.String("tenant_id", tenantID),
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.String("device_id", deviceID))

	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	snapshot := e.deps.Fetcher.Latest(fctx, tenantID, deviceID)
	cancel()
	if snapshot.IsEmpty() {
		c.skipped.Add(1)
		e.deps.Metrics.Evaluations.WithLabelValues("no_data").Inc()
		log.Debug("no telemetry, skipping device")
		return
	}
	c.devices.Add(1)

	eval := EvaluateRule(rule, snapshot)
	if eval.Matched {
		e.deps.Metrics.Evaluations.WithLabelValues("matched").Inc()
	} else {
		e.deps.Metrics.Evaluations.WithLabelValues("not_matched").Inc()
	}

	unlock := e.locks.Lock(lockKey(rule.ID, deviceID))
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	open, err := e.deps.Instances.GetActiveByDevice(sctx, tenantID, deviceID)
	cancel()
	if err != nil {
		log.Error("failed to load open alerts", logger.Error(err))
		return
	}

	now := e.deps.Now()
	decision := Decide(open, eval.Matched, rule, now)
	switch decision.Action {
	case ActionTrigger:
		e.trigger(ctx, log, tenantID, rule, deviceID, eval, snapshot, now, c)
	case ActionResolve:
		e.resolve(ctx, log, tenantID, decision.Instance, c)
	case ActionEscalate:
		e.escalate(ctx, log, rule, decision.Instance, now, c)
	case ActionNone:
	}
}

func (e *Engine) trigger(ctx context.Context, log logger.Logger, tenantID string, rule *entities.AlertRule, deviceID string, eval Evaluation, snapshot telemetry.Snapshot, now time.Time, c *cycleCounters) {
	sctx, cancel := e.storeCtx(ctx)
	suppressed, err := e.deps.Cooldown.ShouldSuppress(sctx, rule, deviceID, now)
	cancel()
	if err != nil {
		// Without history the cooldown cannot be honoured; retry next cycle.
		log.Error("failed to check cooldown", logger.Error(err))
		return
	}
	if suppressed {
		c.suppressed.Add(1)
		e.deps.Metrics.AlertsSuppressed.Inc()
		log.Debug("trigger suppressed by cooldown", logger.Int("cooldown_minutes", rule.CooldownMinutes))
		return
	}

	inst := &entities.AlertInstance{
		TenantID:    tenantID,
		AlertRuleID: rule.ID,
		DeviceID:    deviceID,
		Status:      entities.StatusActive,
		Severity:    eval.Severity,
		Message:     eval.Summary(snapshot),
		Details:     fmt.Sprintf("Rule %q matched %d of %d conditions", rule.Name, len(eval.Conditions), len(rule.Conditions)),
		FieldValues: snapshot.Raw(),
		TriggeredAt: now.UTC(),
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.deps.Instances.CreateInstance(sctx, inst)
	cancel()
	if errors.Is(err, repository.ErrActiveInstanceExists) {
		log.Debug("open alert already exists, not triggering")
		return
	}
	if err != nil {
		log.Error("failed to create alert", logger.Error(err))
		return
	}

	c.triggered.Add(1)
	e.deps.Metrics.AlertsTriggered.WithLabelValues(inst.Severity).Inc()
	log.Info("alert triggered",
		logger.String("alert_id", inst.ID),
		logger.String("severity", inst.Severity),
		logger.String("summary", inst.Message))

	report := e.deps.Notifier.Dispatch(ctx, inst, rule)
	if report.Delivered() {
		e.countNotification(ctx, log, inst.ID)
	}
}

func (e *Engine) resolve(ctx context.Context, log logger.Logger, tenantID string, inst *entities.AlertInstance, c *cycleCounters) {
	sctx, cancel := e.storeCtx(ctx)
	ok, err := e.deps.Instances.Resolve(sctx, inst.ID, tenantID, ReasonAutoResolved)
	cancel()
	if err != nil {
		log.Error("failed to resolve alert", logger.String("alert_id", inst.ID), logger.Error(err))
		return
	}
	if !ok {
		return
	}
	c.resolved.Add(1)
	e.deps.Metrics.AlertsResolved.Inc()
	log.Info("alert auto-resolved", logger.String("alert_id", inst.ID))
}

func (e *Engine) escalate(ctx context.Context, log logger.Logger, rule *entities.AlertRule, inst *entities.AlertInstance, now time.Time, c *cycleCounters) {
	// The escalation is recorded before sending: a failed write skips this
	// cycle, and a recorded escalation is never resent when channels fail.
	sctx, cancel := e.storeCtx(ctx)
	err := e.deps.Instances.RecordEscalation(sctx, inst.ID, now)
	cancel()
	if err != nil {
		log.Error("failed to record escalation", logger.String("alert_id", inst.ID), logger.Error(err))
		return
	}

	report := e.deps.Notifier.Escalate(ctx, inst, rule)

	c.escalated.Add(1)
	e.deps.Metrics.Escalations.Inc()
	log.Info("alert escalated",
		logger.String("alert_id", inst.ID),
		logger.Int("escalation", inst.EscalationCount+1))

	if report.Delivered() {
		e.countNotification(ctx, log, inst.ID)
	}
}

func (e *Engine) countNotification(ctx context.Context, log logger.Logger, id string) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.deps.Instances.IncrementNotificationCount(sctx, id); err != nil {
		log.Warn("failed to increment notification count", logger.String("alert_id", id), logger.Error(err))
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func lockKey(ruleID uint, deviceID string) string {
	return fmt.Sprintf("%d/%s", ruleID, deviceID)
}

// keyedMutex serialises work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
