package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// Comparison operators supported by conditions.
const (
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorEqual       = "equal"
	OperatorNotEqual    = "not_equal"
	OperatorBetween     = "between"
	OperatorOutside     = "outside"
)

// Operators lists every supported operator in display order.
var Operators = []string{
	OperatorGreaterThan,
	OperatorLessThan,
	OperatorEqual,
	OperatorNotEqual,
	OperatorBetween,
	OperatorOutside,
}

// AlertCondition compares one telemetry field against a threshold.
// Thresholds are stored as strings and coerced to numbers at evaluation.
type AlertCondition struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RuleID      uint   `gorm:"not null;index" json:"rule_id"`
	Field       string `gorm:"size:100;not null" json:"field"`
	Operator    string `gorm:"size:20;not null" json:"operator"`
	Value       string `gorm:"size:100;not null" json:"value"`
	SecondValue string `gorm:"size:100;default:''" json:"second_value,omitempty"`
	Unit        string `gorm:"size:20;default:''" json:"unit,omitempty"`
	Level       string `gorm:"size:20;default:''" json:"level,omitempty"`
	SortOrder   int    `gorm:"default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (AlertCondition) TableName() string {
	return "alert_conditions"
}

// IsRange reports whether the operator needs a second threshold.
func (c *AlertCondition) IsRange() bool {
	return c.Operator == OperatorBetween || c.Operator == OperatorOutside
}

// Validate checks the operator and that thresholds are numeric.
func (c *AlertCondition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	known := false
	for _, op := range Operators {
		if c.Operator == op {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err != nil {
		return fmt.Errorf("value %q is not numeric", c.Value)
	}
	if c.IsRange() {
		if _, err := strconv.ParseFloat(strings.TrimSpace(c.SecondValue), 64); err != nil {
			return fmt.Errorf("operator %s needs a numeric second_value, got %q", c.Operator, c.SecondValue)
		}
	}
	if c.Level != "" && !IsSeverity(c.Level) {
		return fmt.Errorf("unknown level %q", c.Level)
	}
	return nil
}
