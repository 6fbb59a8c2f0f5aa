package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
)

// ErrInvalidTransition is returned when a manual status change is not
// allowed from the instance's current status.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// Action is what the engine does for a (rule, device) pair in one cycle.
type Action int

const (
	ActionNone Action = iota
	ActionTrigger
	ActionResolve
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionTrigger:
		return "trigger"
	case ActionResolve:
		return "resolve"
	case ActionEscalate:
		return "escalate"
	default:
		return "none"
	}
}

// Decision pairs an action with the open instance it applies to. Instance
// is nil for ActionNone and ActionTrigger.
type Decision struct {
	Action   Action
	Instance *entities.AlertInstance
}

// Decide picks the lifecycle action from the rule's open instances for a
// device and whether the rule currently matches. Cooldown is checked by the
// caller after a trigger decision.
func Decide(open []entities.AlertInstance, matched bool, rule *entities.AlertRule, now time.Time) Decision {
	var current *entities.AlertInstance
	for i := range open {
		if open[i].AlertRuleID == rule.ID && open[i].IsOpen() {
			current = &open[i]
			break
		}
	}

	switch {
	case current == nil && matched:
		return Decision{Action: ActionTrigger}
	case current == nil:
		return Decision{Action: ActionNone}
	case !matched:
		return Decision{Action: ActionResolve, Instance: current}
	case shouldEscalate(current, rule.Escalation, now):
		return Decision{Action: ActionEscalate, Instance: current}
	default:
		return Decision{Action: ActionNone, Instance: current}
	}
}

// shouldEscalate applies the escalation schedule. Only active instances
// escalate; without Repeat an instance escalates at most once.
func shouldEscalate(inst *entities.AlertInstance, esc *entities.AlertEscalation, now time.Time) bool {
	if esc == nil || esc.EscalateAfterMinutes <= 0 || inst.Status != entities.StatusActive {
		return false
	}
	since := inst.TriggeredAt
	if inst.LastEscalatedAt != nil {
		if !esc.Repeat {
			return false
		}
		since = *inst.LastEscalatedAt
	} else if inst.EscalationCount > 0 && !esc.Repeat {
		return false
	}
	return now.Sub(since) >= esc.After()
}

// CanTransition guards manual status changes. Resolved is terminal.
func CanTransition(from, to string) bool {
	switch from {
	case entities.StatusActive:
		return to == entities.StatusAcknowledged || to == entities.StatusResolved
	case entities.StatusAcknowledged:
		return to == entities.StatusResolved
	default:
		return false
	}
}

// AlertService exposes the manual alert operations used by the HTTP API.
type AlertService struct {
	instances repository.AlertInstanceRepository
	log       logger.Logger
}

// NewAlertService creates an AlertService.
func NewAlertService(instances repository.AlertInstanceRepository, log logger.Logger) *AlertService {
	return &AlertService{instances: instances, log: log.Module("alerts")}
}

// Get returns one of the tenant's instances.
func (s *AlertService) Get(ctx context.Context, tenantID, id string) (*entities.AlertInstance, error) {
	return s.instances.GetInstance(ctx, tenantID, id)
}

// List returns the tenant's instances matching filter and the total count.
func (s *AlertService) List(ctx context.Context, filter repository.AlertInstanceFilter) ([]entities.AlertInstance, int64, error) {
	return s.instances.ListInstances(ctx, filter)
}

// Acknowledge marks an active instance as acknowledged by the given user.
func (s *AlertService) Acknowledge(ctx context.Context, tenantID, id, by string) (*entities.AlertInstance, error) {
	if err := s.transition(ctx, tenantID, id, entities.StatusAcknowledged, func() (bool, error) {
		return s.instances.Acknowledge(ctx, id, tenantID, by)
	}); err != nil {
		return nil, err
	}
	s.log.Info("alert acknowledged",
		logger.String("tenant_id", tenantID),
		logger.String("alert_id", id),
		logger.String("by", by))
	return s.instances.GetInstance(ctx, tenantID, id)
}

// Resolve marks an open instance as resolved. An empty reason records a
// manual resolution.
func (s *AlertService) Resolve(ctx context.Context, tenantID, id, reason string) (*entities.AlertInstance, error) {
	if reason == "" {
		reason = ReasonManualResolved
	}
	if err := s.transition(ctx, tenantID, id, entities.StatusResolved, func() (bool, error) {
		return s.instances.Resolve(ctx, id, tenantID, reason)
	}); err != nil {
		return nil, err
	}
	s.log.Info("alert resolved",
		logger.String("tenant_id", tenantID),
		logger.String("alert_id", id),
		logger.String("reason", reason))
	return s.instances.GetInstance(ctx, tenantID, id)
}

func (s *AlertService) transition(ctx context.Context, tenantID, id, to string, apply func() (bool, error)) error {
	inst, err := s.instances.GetInstance(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !CanTransition(inst.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, inst.Status, to)
	}
	ok, err := apply()
	if err != nil {
		return err
	}
	if !ok {
		// The engine changed the status between the read and the update.
		return fmt.Errorf("%w: alert %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}
