package failure

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"typed", New(KindCaptchaRequired, "captcha on %s", "login"), KindCaptchaRequired},
		{"wrapped typed", eris.Wrap(Wrap(KindCapacity, nil), "execute"), KindCapacity},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", eris.Wrap(context.DeadlineExceeded, "wait visible"), KindTimeout},
		{"canceled", context.Canceled, KindAborted},
		{"plain", errors.New("element not found"), KindStepFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAtStep(t *testing.T) {
	t.Parallel()

	err := AtStep(New(KindMissingCredential, "no dob"), 3)
	assert.Equal(t, KindMissingCredential, err.Kind)
	assert.Equal(t, 3, StepOf(err))
	assert.Contains(t, err.Error(), "missing_credential at step 3")

	untyped := AtStep(errors.New("boom"), 2)
	assert.Equal(t, KindStepFailure, untyped.Kind)
	assert.Equal(t, 2, untyped.Step)

	assert.Equal(t, 0, StepOf(errors.New("plain")))
}

func TestKindPredicates(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindMissingCredential, KindCaptchaRequired, KindTwoFactorRequired} {
		assert.True(t, k.Terminal(), k)
	}
	assert.False(t, KindStepFailure.Terminal())
	assert.False(t, KindTimeout.Terminal())

	assert.True(t, KindAuthorization.Gating())
	assert.True(t, KindCapacity.Gating())
	assert.False(t, KindStepFailure.Gating())
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryCaptcha, CategoryOf(KindCaptchaRequired))
	assert.Equal(t, CategoryTimeout, CategoryOf(KindTimeout))
	assert.Equal(t, CategoryConsent, CategoryOf(KindAuthorization))
	assert.Equal(t, CategoryAuthentication, CategoryOf(KindTwoFactorRequired))
	assert.Equal(t, CategoryPortalChange, CategoryOf(KindStepFailure))
	assert.Equal(t, CategoryAborted, CategoryOf(KindAborted))
	assert.Equal(t, CategoryUnknown, CategoryOf(KindSystem))
}
