package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance_layer/internal/app/storage/memory"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

func newService(t *testing.T) (*Service, *capability.Authority, *ledger.ManualClock) {
	t.Helper()
	caps, err := capability.NewAuthority([]byte("secret"))
	require.NoError(t, err)
	clock := ledger.NewManualClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	eng := ledger.New(memory.New(), clock, ledger.WithLogger(logger.Discard()))
	return New(eng, caps, []string{"root", " ops ", ""}, logger.Discard()), caps, clock
}

func TestIssueCapability(t *testing.T) {
	svc, caps, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.IssueCapability(ctx, "mallory", capability.ActionSlash, "v1", "", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	_, _, err = svc.IssueCapability(ctx, "root", capability.ActionTransfer, "c1", "", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, _, err = svc.IssueCapability(ctx, "root", capability.ActionSlash, "v1", "mallory", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, _, err = svc.IssueCapability(ctx, "root", capability.ActionSlash, "v1", "", 48*time.Hour)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	token, rec, err := svc.IssueCapability(ctx, "root", capability.ActionSlash, "v1", "ops", 0)
	require.NoError(t, err)
	assert.Equal(t, "ops", rec.Holder)
	assert.Equal(t, "root", rec.Issuer)
	assert.Equal(t, DefaultTTL, rec.ExpiresAt.Sub(rec.IssuedAt))

	claims, err := caps.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, claims.ID)
	assert.Equal(t, capability.ActionSlash, claims.Action)

	outstanding, err := svc.ListCapabilities(ctx)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
}

func TestRevokeAndPurge(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	_, short, err := svc.IssueCapability(ctx, "root", capability.ActionLockdown, "p1", "", time.Minute)
	require.NoError(t, err)
	_, long, err := svc.IssueCapability(ctx, "root", capability.ActionLockdown, "p2", "", time.Hour)
	require.NoError(t, err)
	_, revoked, err := svc.IssueCapability(ctx, "root", capability.ActionLockdown, "p3", "", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RevokeCapability(ctx, "mallory", revoked.ID), apperrors.ErrNotAuthorized)
	require.NoError(t, svc.RevokeCapability(ctx, "root", revoked.ID))
	assert.ErrorIs(t, svc.RevokeCapability(ctx, "root", revoked.ID), apperrors.ErrNotFound)

	clock.Advance(10 * time.Minute)
	n, err := svc.PurgeExpired(ctx, "sweeper")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := svc.ListCapabilities(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, long.ID, left[0].ID)
	assert.NotEqual(t, short.ID, left[0].ID)
}
