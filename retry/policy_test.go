package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orbital-run/jobctl/domain"
)

func TestPolicy_NextDelay_ExponentialNoJitter(t *testing.T) {
	p := Default(5, 1.0, 0)

	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 8*time.Second, p.NextDelay(4))
}

func TestPolicy_NextDelay_JitterWithinBounds(t *testing.T) {
	p := Default(5, 1.0, 2.0)
	for i := 0; i < 50; i++ {
		d := p.NextDelay(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestPolicy_ExhaustedAfter(t *testing.T) {
	p := Default(3, 1.0, 0)
	assert.False(t, p.ExhaustedAfter(3))
	assert.True(t, p.ExhaustedAfter(4))
}

func TestPolicy_ForWorkItem_OverridesOnlySetFields(t *testing.T) {
	base := Default(3, 1.0, 0.5)
	override := &domain.RetryPolicy{MaxRetries: 10}

	merged := base.ForWorkItem(override)
	assert.Equal(t, 10, merged.MaxRetries)
	assert.Equal(t, 1.0, merged.BackoffBaseSeconds)
	assert.Equal(t, 0.5, merged.JitterSeconds)
}

func TestPolicy_ForWorkItem_NilOverrideIsNoop(t *testing.T) {
	base := Default(3, 1.0, 0.5)
	assert.Equal(t, base, base.ForWorkItem(nil))
}
