package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func record(t *testing.T, st store.HistoryStore, insurer string, age time.Duration, success bool, kind failure.Kind) {
	t.Helper()
	require.NoError(t, st.RecordVerification(context.Background(), model.VerificationRecord{
		ID:         insurer + age.String(),
		InsurerKey: insurer,
		Timestamp:  testNow.Add(-age),
		Success:    success,
		ErrorKind:  kind,
	}))
}

func newTestCollector(st store.HistoryStore) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return testNow }
	return c
}

// failingHistory returns an error from every list call.
type failingHistory struct{ store.HistoryStore }

func (failingHistory) ListVerifications(context.Context, time.Time) ([]model.VerificationRecord, error) {
	return nil, errors.New("db down")
}

func TestCollector_EmptyStore(t *testing.T) {
	snap, err := newTestCollector(store.NewMemory()).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Total)
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Empty(t, snap.Portals)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_PortalBreakdown(t *testing.T) {
	st := store.NewMemory()
	record(t, st, "delta dental", time.Hour, true, "")
	record(t, st, "delta dental", 2*time.Hour, true, "")
	record(t, st, "delta dental", 3*time.Hour, false, failure.KindCaptchaRequired)
	record(t, st, "aetna", time.Hour, false, failure.KindTimeout)
	// Outside the window.
	record(t, st, "aetna", 48*time.Hour, true, "")

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 2, snap.Failed)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
	assert.Equal(t, 1, snap.FailuresByCategory[failure.CategoryCaptcha])
	assert.Equal(t, 1, snap.FailuresByCategory[failure.CategoryTimeout])

	require.Len(t, snap.Portals, 2)
	assert.Equal(t, "aetna", snap.Portals[0].InsurerKey)
	assert.Equal(t, 1, snap.Portals[0].Total)
	assert.Equal(t, 0.0, snap.Portals[0].SuccessRate)
	assert.Equal(t, "delta dental", snap.Portals[1].InsurerKey)
	assert.InDelta(t, 2.0/3.0, snap.Portals[1].SuccessRate, 1e-9)
}

func TestCollector_LearningFailures(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.RecordLearningEvent(ctx, model.LearningEvent{
		ID: "recent", InsurerKey: "cigna", Timestamp: testNow.Add(-time.Hour),
	}))
	require.NoError(t, st.RecordLearningEvent(ctx, model.LearningEvent{
		ID: "old", InsurerKey: "cigna", Timestamp: testNow.Add(-72 * time.Hour),
	}))

	snap, err := newTestCollector(st).Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.LearningFailures)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(failingHistory{store.NewMemory()}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list verifications")
}
