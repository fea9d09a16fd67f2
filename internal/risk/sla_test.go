package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateSLA(t *testing.T) {
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	assert.Equal(t, SLANone, EvaluateSLA(nil, false, now))
	assert.Equal(t, SLANone, EvaluateSLA(&time.Time{}, false, now))
	assert.Equal(t, SLACompleted, EvaluateSLA(at(-48*time.Hour), true, now))
	assert.Equal(t, SLABreached, EvaluateSLA(at(-time.Second), false, now))
	assert.Equal(t, SLACritical, EvaluateSLA(at(0), false, now))
	assert.Equal(t, SLACritical, EvaluateSLA(at(4*time.Hour), false, now))
	assert.Equal(t, SLAAtRisk, EvaluateSLA(at(4*time.Hour+36*time.Second), false, now), "4.01h")
	assert.Equal(t, SLAAtRisk, EvaluateSLA(at(24*time.Hour), false, now))
	assert.Equal(t, SLAOnTrack, EvaluateSLA(at(24*time.Hour+time.Minute), false, now))
}

func TestSLARankOrdersNoSLAAfterOnTrack(t *testing.T) {
	assert.Less(t, SLABreached.Rank(), SLACritical.Rank())
	assert.Less(t, SLACritical.Rank(), SLAAtRisk.Rank())
	assert.Less(t, SLAAtRisk.Rank(), SLAOnTrack.Rank())
	assert.Less(t, SLAOnTrack.Rank(), SLANone.Rank())
	assert.True(t, SLACompleted.Valid())
	assert.False(t, SLAStatus("late").Valid())
}
