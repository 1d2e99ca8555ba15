package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyAccess_CachedOwnerSkipsUpstream(t *testing.T) {
	h := newHarness()
	h.cache.owners["42"] = "owner-1"
	v := NewOwnershipVerifier(h.owner, h.cache, nil)

	assert.True(t, v.VerifyAccess(context.Background(), "owner-1", "42"))
	assert.False(t, v.VerifyAccess(context.Background(), "intruder", "42"))
	assert.Zero(t, h.owner.calls)
}

func TestVerifyAccess_PositiveResultIsCached(t *testing.T) {
	h := newHarness()
	v := NewOwnershipVerifier(h.owner, h.cache, nil)

	assert.True(t, v.VerifyAccess(context.Background(), "owner-1", "42"))
	assert.True(t, v.VerifyAccess(context.Background(), "owner-1", "42"))
	assert.Equal(t, 1, h.owner.calls)
	assert.Equal(t, "owner-1", h.cache.owners["42"])
}

func TestVerifyAccess_NegativeResultIsNotCached(t *testing.T) {
	h := newHarness()
	v := NewOwnershipVerifier(h.owner, h.cache, nil)

	assert.False(t, v.VerifyAccess(context.Background(), "intruder", "42"))
	assert.False(t, v.VerifyAccess(context.Background(), "intruder", "42"))
	assert.Equal(t, 2, h.owner.calls)
	assert.NotContains(t, h.cache.owners, "42")
}

func TestVerifyAccess_UpstreamFailureFailsClosed(t *testing.T) {
	h := newHarness()
	h.owner.isOwnerFn = func(ctx context.Context, _, _ string) (bool, error) {
		return true, context.DeadlineExceeded
	}
	v := NewOwnershipVerifier(h.owner, h.cache, nil)

	assert.False(t, v.VerifyAccess(context.Background(), "owner-1", "42"))
	assert.NotContains(t, h.cache.owners, "42")
}

func TestVerifyAccess_MissingIdentityDenied(t *testing.T) {
	h := newHarness()
	v := NewOwnershipVerifier(h.owner, h.cache, nil)

	assert.False(t, v.VerifyAccess(context.Background(), "", "42"))
	assert.False(t, v.VerifyAccess(context.Background(), "owner-1", ""))
	assert.Zero(t, h.owner.calls)
}

func TestVerifyAccess_ErrorResultNeverGrants(t *testing.T) {
	h := newHarness()
	h.owner.isOwnerFn = func(context.Context, string, string) (bool, error) {
		return false, errors.New("nats: no responders available for request")
	}
	v := NewOwnershipVerifier(h.owner, h.cache, nil)
	assert.False(t, v.VerifyAccess(context.Background(), "owner-1", "7"))
}
