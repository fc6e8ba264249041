package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("completed")))

	m.StepFailed("fillField", failure.KindStepFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("fillField", "step_failure")))

	m.Verification(false, failure.KindCaptchaRequired, 3*time.Second)
	m.Verification(true, "", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("failure", "captcha")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("success", "")))

	m.PortalLearned()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.portalsLearned))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("failed")
		m.StepFailed("click", failure.KindTimeout)
		m.Verification(true, "", time.Second)
		m.PortalLearned()
	})
}
