package provenance

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance_layer/internal/app/storage/memory"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/fingerprint"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

type fixture struct {
	svc    *Service
	engine *ledger.Engine
	caps   *capability.Authority
	clock  *ledger.ManualClock
	events *events.RingBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	caps, err := capability.NewAuthority([]byte("secret"))
	require.NoError(t, err)
	clock := ledger.NewManualClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	rb := events.NewRingBuffer(100)
	eng := ledger.New(memory.New(), clock, ledger.WithPublisher(rb), ledger.WithLogger(logger.Discard()))
	return &fixture{
		svc:    New(eng, caps, config.DefaultProtocol(), logger.Discard()),
		engine: eng,
		caps:   caps,
		clock:  clock,
		events: rb,
	}
}

func digest(s string) string {
	sum, _ := fingerprint.Compute(fingerprint.SHA256, []byte(s))
	return fingerprint.Canonical(sum)
}

func (f *fixture) register(t *testing.T, owner, content string) string {
	t.Helper()
	rec, err := f.svc.Register(context.Background(), owner, Registration{Fingerprint: digest(content), Algorithm: "sha256", BlobRef: "blob://" + content})
	require.NoError(t, err)
	return rec.ID
}

func (f *fixture) adminToken(t *testing.T, action capability.Action, entity string) string {
	t.Helper()
	var token string
	require.NoError(t, f.engine.Execute(context.Background(), "admin", nil, func(tx *ledger.Tx) error {
		var err error
		token, _, err = f.caps.Issue(tx, entity, action, "admin", time.Hour)
		return err
	}))
	return token
}

func TestRegisterSeedsRecord(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Register(context.Background(), "alice", Registration{
		Fingerprint: "0x" + strings.ToUpper(digest("photo")),
		Algorithm:   "SHA256",
		BlobRef:     "blob://photo",
		KeyRef:      "key://photo",
		Metadata:    map[string]string{"title": "sunset"},
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "alice", rec.Creator)
	assert.Equal(t, 50, rec.TrustScore)
	assert.True(t, rec.Transferable)
	assert.Equal(t, digest("photo"), rec.Fingerprint)

	recent := f.events.RecentByType(events.ContentRegistered, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, rec.ID, recent[0].EntityID)
	assert.Equal(t, "alice", recent[0].Actor)
}

func TestRegisterFingerprintRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "one")

	ok, err := f.svc.IsRegistered(ctx, digest("one"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsRegistered(ctx, digest("two"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.IsRegistered(ctx, "not-hex")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "dup")

	_, err := f.svc.Register(ctx, "bob", Registration{Fingerprint: digest("dup"), Algorithm: "sha256"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateFingerprint)

	_, err = f.svc.Register(ctx, "bob", Registration{Fingerprint: "", Algorithm: "sha256"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFingerprint)

	_, err = f.svc.Register(ctx, "bob", Registration{Fingerprint: "abcd", Algorithm: "sha256"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFingerprint)
}

func TestUpdateMetadataOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "meta")

	_, err := f.svc.UpdateMetadata(ctx, "bob", id, "title", "x")
	assert.ErrorIs(t, err, apperrors.ErrNotOwner)

	rec, err := f.svc.UpdateMetadata(ctx, "alice", id, "title", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Metadata["title"])
}

func TestRecordVerificationBlendsAndStaysInRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "trust")

	rec, err := f.svc.RecordVerification(ctx, "carol", id, 100)
	require.NoError(t, err)
	assert.Equal(t, 85, rec.TrustScore)
	assert.Equal(t, 1, rec.VerificationCount)

	_, err = f.svc.RecordVerification(ctx, "carol", id, 101)
	assert.ErrorIs(t, err, apperrors.ErrInvalidScore)
	_, err = f.svc.RecordVerification(ctx, "carol", id, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidScore)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		rec, err = f.svc.RecordVerification(ctx, "carol", id, r.Intn(101))
		require.NoError(t, err)
		require.GreaterOrEqual(t, rec.TrustScore, 0)
		require.LessOrEqual(t, rec.TrustScore, 100)
	}
}

func TestTransferIsTwoPhaseAndSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "transfer")

	_, err := f.svc.IssueTransfer(ctx, "bob", id, "carol", time.Hour)
	assert.ErrorIs(t, err, apperrors.ErrNotOwner)

	pending, err := f.svc.IssueTransfer(ctx, "alice", id, "bob", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "bob", pending.To)

	_, err = f.svc.RedeemTransfer(ctx, "mallory", pending.Token)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	rec, err := f.svc.RedeemTransfer(ctx, "bob", pending.Token)
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.Owner)
	assert.Equal(t, "alice", rec.Creator)

	_, err = f.svc.RedeemTransfer(ctx, "bob", pending.Token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)

	owned, err := f.svc.ListByOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, id, owned[0].ID)
}

func TestTransferExpiresAndRespectsTransferable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "expiring")

	pending, err := f.svc.IssueTransfer(ctx, "alice", id, "bob", time.Minute)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.RedeemTransfer(ctx, "bob", pending.Token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)

	_, err = f.svc.SetTransferable(ctx, "alice", id, false)
	require.NoError(t, err)
	_, err = f.svc.IssueTransfer(ctx, "alice", id, "bob", time.Hour)
	assert.ErrorIs(t, err, apperrors.ErrNotTransferable)
}

func TestStaleTransferAfterOwnershipChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "stale")

	toBob, err := f.svc.IssueTransfer(ctx, "alice", id, "bob", time.Hour)
	require.NoError(t, err)
	toCarol, err := f.svc.IssueTransfer(ctx, "alice", id, "carol", time.Hour)
	require.NoError(t, err)

	_, err = f.svc.RedeemTransfer(ctx, "bob", toBob.Token)
	require.NoError(t, err)
	_, err = f.svc.RedeemTransfer(ctx, "carol", toCarol.Token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)
}

func TestAdministrativeOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "alice", "moderated")

	token := f.adminToken(t, capability.ActionForceTrust, id)
	rec, err := f.svc.ForceTrustScore(ctx, "admin", token, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.TrustScore)

	_, err = f.svc.ForceTrustScore(ctx, "admin", token, id, 7)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability, "admin capability is single use")

	wrong := f.adminToken(t, capability.ActionForceTrust, id)
	_, err = f.svc.ForceDisableTransfers(ctx, "admin", wrong, id)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)

	token = f.adminToken(t, capability.ActionDisableTransfers, capability.AnyEntity)
	rec, err = f.svc.ForceDisableTransfers(ctx, "admin", token, id)
	require.NoError(t, err)
	assert.False(t, rec.Transferable)
}
