package alerting

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/telemetry"
)

// Evaluation is the outcome of evaluating a rule against one snapshot.
type Evaluation struct {
	Matched bool
	// Conditions holds the conditions that held, in rule order.
	Conditions []entities.AlertCondition
	// Severity is the highest level among matched conditions, falling back
	// to the rule severity.
	Severity string
}

// EvaluateRule reduces the rule's conditions with AND or OR. A rule without
// conditions never matches.
func EvaluateRule(rule *entities.AlertRule, snapshot telemetry.Snapshot) Evaluation {
	eval := Evaluation{Severity: rule.Severity}
	if len(rule.Conditions) == 0 {
		return eval
	}

	and := rule.IsAnd()
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if EvaluateCondition(cond, snapshot) {
			eval.Conditions = append(eval.Conditions, *cond)
		} else if and {
			return Evaluation{Severity: rule.Severity}
		}
	}

	eval.Matched = len(eval.Conditions) > 0
	if !eval.Matched {
		return eval
	}
	for i := range eval.Conditions {
		if lvl := strings.ToLower(eval.Conditions[i].Level); entities.SeverityRank(lvl) > entities.SeverityRank(eval.Severity) {
			eval.Severity = lvl
		}
	}
	return eval
}

// EvaluateCondition checks one condition. Missing fields, nulls and values
// or thresholds that are not numeric all evaluate to false.
func EvaluateCondition(cond *entities.AlertCondition, snapshot telemetry.Snapshot) bool {
	value, ok := snapshot.Get(cond.Field)
	if !ok || value.IsNull() {
		return false
	}
	actual, ok := value.Float64()
	if !ok {
		return false
	}
	threshold, ok := parseThreshold(cond.Value)
	if !ok {
		return false
	}

	switch cond.Operator {
	case entities.OperatorGreaterThan:
		return actual > threshold
	case entities.OperatorLessThan:
		return actual < threshold
	case entities.OperatorEqual:
		return math.Abs(actual-threshold) < equalityEpsilon
	case entities.OperatorNotEqual:
		return math.Abs(actual-threshold) >= equalityEpsilon
	case entities.OperatorBetween, entities.OperatorOutside:
		upper, ok := parseThreshold(cond.SecondValue)
		if !ok {
			return false
		}
		// Value is the lower bound and SecondValue the upper; a reversed
		// pair is an empty range.
		inside := actual >= threshold && actual <= upper
		if cond.Operator == entities.OperatorBetween {
			return inside
		}
		return !inside
	default:
		return false
	}
}

func parseThreshold(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Summary describes the matched conditions with the observed values,
// e.g. "temperature greater_than 80 (value 85)".
func (e Evaluation) Summary(snapshot telemetry.Snapshot) string {
	parts := make([]string, 0, len(e.Conditions))
	for i := range e.Conditions {
		c := &e.Conditions[i]
		observed, _ := snapshot.Get(c.Field)
		threshold := c.Value
		if c.IsRange() {
			threshold = c.Value + ".." + c.SecondValue
		}
		part := fmt.Sprintf("%s %s %s%s (value %s%s)", c.Field, c.Operator, threshold, c.Unit, observed, c.Unit)
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
