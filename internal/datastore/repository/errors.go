package repository

import "github.com/sensorhub/alert-engine/internal/errors"

var (
	// ErrAlertRuleNotFound is returned when a rule lookup finds no row.
	ErrAlertRuleNotFound = errors.New("alert rule not found")
	// ErrAlertInstanceNotFound is returned when an instance lookup finds no row.
	ErrAlertInstanceNotFound = errors.New("alert instance not found")
	// ErrActiveInstanceExists is returned by CreateInstance when the rule
	// already has an open instance for the device.
	ErrActiveInstanceExists = errors.New("open alert instance already exists for rule and device")
)
