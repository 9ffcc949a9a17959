package oracle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance_layer/internal/app/services/provenance"
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
	svc     *Service
	content *provenance.Service
	engine  *ledger.Engine
	caps    *capability.Authority
	clock   *ledger.ManualClock
	events  *events.RingBuffer
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, config.DefaultProtocol())
}

func newFixtureWith(t *testing.T, protocol config.Protocol) *fixture {
	t.Helper()
	caps, err := capability.NewAuthority([]byte("secret"))
	require.NoError(t, err)
	clock := ledger.NewManualClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	rb := events.NewRingBuffer(200)
	eng := ledger.New(memory.New(), clock, ledger.WithPublisher(rb), ledger.WithLogger(logger.Discard()))
	return &fixture{
		svc:     New(eng, caps, protocol, logger.Discard()),
		content: provenance.New(eng, caps, config.DefaultProtocol(), logger.Discard()),
		engine:  eng,
		caps:    caps,
		clock:   clock,
		events:  rb,
	}
}

func (f *fixture) openDetection(t *testing.T) string {
	t.Helper()
	f.seq++
	sum, err := fingerprint.Compute(fingerprint.SHA256, []byte(fmt.Sprintf("clip-%d", f.seq)))
	require.NoError(t, err)
	rec, err := f.content.Register(context.Background(), "creator", provenance.Registration{Fingerprint: fingerprint.Canonical(sum)})
	require.NoError(t, err)
	det, err := f.svc.OpenDetection(context.Background(), "requester", rec.ID)
	require.NoError(t, err)
	return det.ID
}

func (f *fixture) registerOracles(t *testing.T, addrs ...string) {
	t.Helper()
	for _, addr := range addrs {
		_, err := f.svc.RegisterOracle(context.Background(), addr, "model-"+addr, "classifier", "1.0")
		require.NoError(t, err)
	}
}

func TestRegisterOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.RegisterOracle(ctx, "o1", "detector", "cnn", "2")
	require.NoError(t, err)
	assert.Equal(t, 500, o.Reputation)
	assert.True(t, o.Active)

	_, err = f.svc.RegisterOracle(ctx, "o1", "detector", "cnn", "3")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)
	_, err = f.svc.RegisterOracle(ctx, "o2", " ", "cnn", "1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.svc.OpenDetection(ctx, "r", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestThreeOracleConsensus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")

	_, err := f.svc.SubmitDetection(ctx, "o1", id, true, 85)
	require.NoError(t, err)
	det, err := f.svc.SubmitDetection(ctx, "o2", id, true, 90)
	require.NoError(t, err)
	assert.False(t, det.Finalized)

	_, _, err = f.svc.ComputeConsensus(ctx, "anyone", id)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientSubmissions)

	det, err = f.svc.SubmitDetection(ctx, "o3", id, false, 60)
	require.NoError(t, err)
	assert.True(t, det.Finalized)
	assert.True(t, det.ConsensusReached)
	assert.True(t, det.Verdict)
	assert.InDelta(t, 66.67, det.Confidence, 0.01)
	assert.Equal(t, int64(1000), det.TotalAI)
	assert.Equal(t, int64(500), det.TotalHuman)

	_, err = f.svc.SubmitDetection(ctx, "o4", id, true, 50)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	f.registerOracles(t, "o4")
	_, err = f.svc.SubmitDetection(ctx, "o4", id, true, 50)
	assert.ErrorIs(t, err, apperrors.ErrConsensusAlreadyFinalized)
	_, _, err = f.svc.ComputeConsensus(ctx, "anyone", id)
	assert.ErrorIs(t, err, apperrors.ErrConsensusAlreadyFinalized)

	reached := f.events.RecentByType(events.ConsensusReached, 5)
	require.Len(t, reached, 1)
	assert.Equal(t, "66.67", reached[0].Attributes["confidence"])
}

func TestSubmitDetectionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1")

	for _, c := range []float64{-1, 100.5} {
		_, err := f.svc.SubmitDetection(ctx, "o1", id, true, c)
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfidence)
	}

	_, err := f.svc.SubmitDetection(ctx, "o1", id, true, 100)
	require.NoError(t, err)
	_, err = f.svc.SubmitDetection(ctx, "o1", id, false, 0)
	assert.ErrorIs(t, err, apperrors.ErrAlreadySubmitted)

	_, err = f.svc.DeactivateOracle(ctx, "o1")
	require.NoError(t, err)
	other := f.openDetection(t)
	_, err = f.svc.SubmitDetection(ctx, "o1", other, true, 10)
	assert.ErrorIs(t, err, apperrors.ErrNotActive)
	_, err = f.svc.DeactivateOracle(ctx, "o1")
	assert.ErrorIs(t, err, apperrors.ErrNotActive)
}

func TestSplitVoteDoesNotFinalize(t *testing.T) {
	protocol := config.DefaultProtocol()
	protocol.OracleQuorum = 4
	f := newFixtureWith(t, protocol)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3", "o4")

	// below quorum nothing is evaluated, even at two thirds AI after o3
	for _, sub := range []struct {
		oracle string
		isAI   bool
	}{{"o1", true}, {"o2", false}, {"o3", true}} {
		det, err := f.svc.SubmitDetection(ctx, sub.oracle, id, sub.isAI, 80)
		require.NoError(t, err)
		assert.False(t, det.Finalized)
	}
	det, err := f.svc.SubmitDetection(ctx, "o4", id, false, 80)
	require.NoError(t, err)
	assert.False(t, det.Finalized)
	assert.Equal(t, det.TotalAI, det.TotalHuman)

	reached, det, err := f.svc.ComputeConsensus(ctx, "anyone", id)
	require.NoError(t, err)
	assert.False(t, reached)
	assert.False(t, det.Finalized)

	open, err := f.svc.OpenDetections(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
}

func TestOverrideFlipReversesSettlements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")
	for _, addr := range []string{"o1", "o2", "o3"} {
		_, err := f.svc.SubmitDetection(ctx, addr, id, true, 90)
		require.NoError(t, err)
	}
	det, err := f.svc.GetDetection(ctx, id)
	require.NoError(t, err)
	require.True(t, det.ConsensusReached)

	o1, err := f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	require.NoError(t, err)
	assert.Equal(t, 520, o1.Reputation)
	assert.Equal(t, 1, o1.AccurateSubmissions)

	var token string
	require.NoError(t, f.engine.Execute(ctx, "admin", nil, func(tx *ledger.Tx) error {
		var err error
		token, _, err = f.caps.Issue(tx, id, capability.ActionOverrideVerdict, "admin", time.Hour)
		return err
	}))
	det, err = f.svc.OverrideVerdict(ctx, "admin", token, id, false, 99, "human provenance confirmed")
	require.NoError(t, err)
	assert.True(t, det.Finalized)
	assert.False(t, det.Verdict)
	assert.False(t, det.ConsensusReached)
	assert.False(t, det.Submissions["o1"].ReputationApplied)

	o1, err = f.svc.GetOracle(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 500, o1.Reputation)
	assert.Zero(t, o1.AccurateSubmissions)

	pending, err := f.svc.PendingSettlements(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	o1, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	require.NoError(t, err)
	assert.Equal(t, 470, o1.Reputation)
	_, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyApplied)
}

func TestOverrideSameVerdictKeepsSettlements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")
	for _, addr := range []string{"o1", "o2", "o3"} {
		_, err := f.svc.SubmitDetection(ctx, addr, id, true, 90)
		require.NoError(t, err)
	}
	_, err := f.svc.UpdateOracleReputation(ctx, "anyone", id, "o2")
	require.NoError(t, err)

	var token string
	require.NoError(t, f.engine.Execute(ctx, "admin", nil, func(tx *ledger.Tx) error {
		var err error
		token, _, err = f.caps.Issue(tx, id, capability.ActionOverrideVerdict, "admin", time.Hour)
		return err
	}))
	det, err := f.svc.OverrideVerdict(ctx, "admin", token, id, true, 99, "confirmed")
	require.NoError(t, err)
	assert.True(t, det.ConsensusReached)
	assert.True(t, det.Submissions["o2"].ReputationApplied)

	o2, err := f.svc.GetOracle(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, 520, o2.Reputation)
}

func TestLazyDecayWeighsSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerOracles(t, "o1")

	// idle for just over two decay periods; nothing changes until the oracle writes
	f.clock.Advance(61 * 24 * time.Hour)
	o, err := f.svc.GetOracle(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 500, o.Reputation)

	id := f.openDetection(t)
	det, err := f.svc.SubmitDetection(ctx, "o1", id, true, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(400), det.Submissions["o1"].Weight)

	o, err = f.svc.GetOracle(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 400, o.Reputation)
	assert.WithinDuration(t, f.clock.Now(), o.LastActive, time.Millisecond)
	assert.Equal(t, 1, o.TotalSubmissions)

	changes := f.events.RecentByType(events.OracleReputationChange, 5)
	require.Len(t, changes, 1)
	assert.Equal(t, "2", changes[0].Attributes["periods"])
}

func TestUpdateOracleReputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")

	_, err := f.svc.SubmitDetection(ctx, "o1", id, true, 85)
	require.NoError(t, err)
	_, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	assert.ErrorIs(t, err, apperrors.ErrConsensusNotReached)

	_, err = f.svc.SubmitDetection(ctx, "o2", id, true, 90)
	require.NoError(t, err)
	_, err = f.svc.SubmitDetection(ctx, "o3", id, false, 60)
	require.NoError(t, err)

	o1, err := f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	require.NoError(t, err)
	assert.Equal(t, 520, o1.Reputation)
	assert.Equal(t, 1, o1.AccurateSubmissions)

	o3, err := f.svc.UpdateOracleReputation(ctx, "anyone", id, "o3")
	require.NoError(t, err)
	assert.Equal(t, 470, o3.Reputation)
	assert.Zero(t, o3.AccurateSubmissions)

	_, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "o1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyApplied)
	_, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "stranger")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOverrideVerdict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)

	var token string
	require.NoError(t, f.engine.Execute(ctx, "admin", nil, func(tx *ledger.Tx) error {
		var err error
		token, _, err = f.caps.Issue(tx, id, capability.ActionOverrideVerdict, "admin", time.Hour)
		return err
	}))

	_, err := f.svc.OverrideVerdict(ctx, "admin", token, id, false, 95, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.svc.OverrideVerdict(ctx, "admin", "garbage", id, false, 95, "manual review")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)

	det, err := f.svc.OverrideVerdict(ctx, "admin", token, id, false, 95, "manual review")
	require.NoError(t, err)
	assert.True(t, det.Finalized)
	assert.False(t, det.Verdict)
	assert.Equal(t, 95.0, det.Confidence)
	require.Len(t, det.Overrides, 1)
	assert.Equal(t, "admin", det.Overrides[0].Actor)
	assert.Equal(t, "manual review", det.Overrides[0].Justification)

	_, err = f.svc.OverrideVerdict(ctx, "admin", token, id, true, 95, "again")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCapability)

	list, err := f.svc.ListDetections(ctx, det.ContentID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPendingSettlements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")
	for addr, ai := range map[string]bool{"o1": true, "o2": true, "o3": true} {
		_, err := f.svc.SubmitDetection(ctx, addr, id, ai, 70)
		require.NoError(t, err)
	}

	pending, err := f.svc.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, Settlement{DetectionID: id, Oracle: "o1"}, pending[0])

	_, err = f.svc.UpdateOracleReputation(ctx, "anyone", id, "o2")
	require.NoError(t, err)
	pending, err = f.svc.PendingSettlements(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
