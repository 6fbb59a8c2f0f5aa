package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

type stubHistory struct {
	last *entities.AlertInstance
	err  error
}

func (s stubHistory) MostRecentByRuleAndDevice(context.Context, uint, string) (*entities.AlertInstance, error) {
	return s.last, s.err
}

func TestCooldownGate_ShouldSuppress(t *testing.T) {
	t.Parallel()

	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rule := &entities.AlertRule{ID: 1, CooldownMinutes: 15}

	tests := []struct {
		name string
		rule *entities.AlertRule
		last *entities.AlertInstance
		now  time.Time
		want bool
	}{
		{"inside cooldown", rule, &entities.AlertInstance{TriggeredAt: triggered}, triggered.Add(10 * time.Minute), true},
		{"after cooldown", rule, &entities.AlertInstance{TriggeredAt: triggered}, triggered.Add(16 * time.Minute), false},
		{"exactly at boundary", rule, &entities.AlertInstance{TriggeredAt: triggered}, triggered.Add(15 * time.Minute), false},
		{"resolved instance still counts", rule, &entities.AlertInstance{TriggeredAt: triggered, Status: entities.StatusResolved}, triggered.Add(5 * time.Minute), true},
		{"no history", rule, nil, triggered, false},
		{"zero cooldown", &entities.AlertRule{ID: 1}, &entities.AlertInstance{TriggeredAt: triggered}, triggered.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gate := NewCooldownGate(stubHistory{last: tt.last})
			got, err := gate.ShouldSuppress(t.Context(), tt.rule, "sensor-1", tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCooldownGate_HistoryError(t *testing.T) {
	t.Parallel()

	gate := NewCooldownGate(stubHistory{err: errors.New("db down")})
	_, err := gate.ShouldSuppress(t.Context(), &entities.AlertRule{CooldownMinutes: 5}, "sensor-1", time.Now())
	require.Error(t, err)
}
