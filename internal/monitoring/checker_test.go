package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/config"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalMin: 1, LookbackHours: 24}
	checker := NewChecker(NewCollector(store.NewMemory()), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(store.NewMemory()), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckReportsDegradedPortal(t *testing.T) {
	st := store.NewMemory()
	for i := range 5 {
		record(t, st, "cigna", time.Duration(i+1)*time.Minute, i == 0, failure.KindStepFailure)
	}
	cfg := config.MonitoringConfig{LookbackHours: 24, MinSamples: 5, MinSuccessRate: 0.5}
	collector := newTestCollector(st)
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.NotEmpty(t, alerts)
	assert.Equal(t, AlertPortalDegraded, alerts[0].Type)
}
