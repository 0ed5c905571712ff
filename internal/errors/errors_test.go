package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrUpstreamUnauthorized,
		ErrMissingSession,
		ErrInvalidSession,
	}
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInternal, "internal_error"},
		{KindValidation, "validation_error"},
		{KindNotFound, "not_found"},
		{KindUnauthorized, "unauthorized"},
		{KindReauthRequired, "reauth_required"},
		{KindUpstream, "upstream_error"},
		{Kind(99), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("listing spaces: %w", NotFound("space not found"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "space not found", Message(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindValidation))
}

func TestKindOf_Unclassified(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestUpstreamUnauthorized_IsMatchable(t *testing.T) {
	err := fmt.Errorf("fetching user: %w", ErrUpstreamUnauthorized)
	assert.ErrorIs(t, err, ErrUpstreamUnauthorized)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("raindrop request failed", cause)
	assert.Equal(t, "raindrop request failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "raindrop request failed", Message(err))
}
