package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_CountsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SessionStarted("registration")
	c.StepAdvanced("registration", "name_step")
	c.StepAdvanced("registration", "age_step")
	c.ValidationFailed("registration", "age_step")
	c.ChainCompleted("registration")

	c.SessionStarted("broadcast")
	c.SessionErrored("broadcast")
	c.SessionCancelled("broadcast")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.started.WithLabelValues("registration")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.advanced.WithLabelValues("registration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.validation.WithLabelValues("registration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completed.WithLabelValues("registration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errored.WithLabelValues("broadcast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancelled.WithLabelValues("broadcast")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.active), "one completion and one cancellation balance two starts")
}
