package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostBreakers_OpensAfterThreshold(t *testing.T) {
	b := NewHostBreakers(2, time.Minute)
	flaky := &TransientError{Err: errors.New("timeout")}

	require.NoError(t, b.Allow("portal.aetna.com"))
	b.Record("portal.aetna.com", flaky)
	assert.Equal(t, BreakerClosed, b.State("portal.aetna.com"))
	b.Record("portal.aetna.com", flaky)
	assert.Equal(t, BreakerOpen, b.State("portal.aetna.com"))

	err := b.Allow("portal.aetna.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Other hosts are unaffected.
	assert.NoError(t, b.Allow("member.cigna.com"))
}

func TestHostBreakers_HalfOpenTrial(t *testing.T) {
	now := time.Now()
	b := NewHostBreakers(1, time.Minute)
	b.now = func() time.Time { return now }
	flaky := &TransientError{Err: errors.New("timeout")}

	b.Record("h", flaky)
	require.Error(t, b.Allow("h"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State("h"))
	require.NoError(t, b.Allow("h"))

	// A failed trial reopens immediately.
	b.Record("h", flaky)
	require.Error(t, b.Allow("h"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("h"))
	b.Record("h", nil)
	assert.Equal(t, BreakerClosed, b.State("h"))
}

func TestHostBreakers_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewHostBreakers(1, time.Minute)
	b.Record("h", errors.New("404"))
	assert.Equal(t, BreakerClosed, b.State("h"))
	assert.Equal(t, "closed", b.State("h").String())
}
