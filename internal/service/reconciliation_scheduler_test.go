package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/pkg/config"
)

func TestParseRunAt(t *testing.T) {
	hour, minute, err := parseRunAt("02:00")
	require.NoError(t, err)
	assert.Equal(t, 2, hour)
	assert.Equal(t, 0, minute)

	hour, minute, err = parseRunAt("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 59, minute)

	for _, raw := range []string{"", "2", "24:00", "12:60", "ab:cd"} {
		_, _, err := parseRunAt(raw)
		assert.Error(t, err, "raw %q", raw)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	scheduler := NewReconciliationScheduler(nil, config.ReconciliationConfig{RunAt: "02:00"}, zap.NewNop())

	before := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	next := scheduler.nextRun(before)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)

	after := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	next = scheduler.nextRun(after)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), next, "exact run time schedules the next day")
}

func TestSchedulerNextRunFallsBackOnBadConfig(t *testing.T) {
	scheduler := NewReconciliationScheduler(nil, config.ReconciliationConfig{RunAt: "not-a-time"}, zap.NewNop())

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := scheduler.nextRun(now)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), next)
}

func TestSchedulerStartDisabled(t *testing.T) {
	scheduler := NewReconciliationScheduler(nil, config.ReconciliationConfig{Enabled: false}, zap.NewNop())
	scheduler.Start(context.Background())
	scheduler.Stop()
}
