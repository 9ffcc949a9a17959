package oracle

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Service runs the AI-detection truth oracle.
type Service struct {
	ledger   *ledger.Engine
	caps     *capability.Authority
	protocol config.Protocol
	log      *logger.Logger
}

// New creates a truth oracle service.
func New(engine *ledger.Engine, caps *capability.Authority, protocol config.Protocol, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("oracle")
	}
	return &Service{ledger: engine, caps: caps, protocol: protocol, log: log}
}

func oracleKey(addr string) ledger.Key  { return ledger.K(oracle.KindOracle, addr) }
func detectionKey(id string) ledger.Key { return ledger.K(oracle.KindDetection, id) }

func validConfidence(c float64) bool { return c >= 0 && c <= 100 }

func formatPct(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// RegisterOracle enrols sender as a detection oracle.
func (s *Service) RegisterOracle(ctx context.Context, sender, name, modelType, version string) (oracle.Oracle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return oracle.Oracle{}, apperrors.InvalidArgument("name", "required")
	}
	var out oracle.Oracle
	err := s.ledger.Execute(ctx, sender, []ledger.Key{oracleKey(sender)}, func(tx *ledger.Tx) error {
		exists, err := tx.Exists(oracleKey(sender))
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrAlreadyRegistered
		}
		out = oracle.Oracle{
			Address:      sender,
			Name:         name,
			ModelType:    strings.TrimSpace(modelType),
			Version:      strings.TrimSpace(version),
			Reputation:   s.protocol.OracleInitialReputation,
			LastActive:   tx.Now(),
			Active:       true,
			RegisteredAt: tx.Now(),
		}
		tx.Emit(events.OracleRegistered, sender, map[string]string{"name": name, "model_type": out.ModelType})
		return tx.Put(oracleKey(sender), out)
	})
	if err != nil {
		return oracle.Oracle{}, err
	}
	s.log.WithField("oracle", sender).WithField("name", name).Info("oracle registered")
	return out, nil
}

// DeactivateOracle withdraws sender from future submissions.
func (s *Service) DeactivateOracle(ctx context.Context, sender string) (oracle.Oracle, error) {
	var out oracle.Oracle
	err := s.ledger.Execute(ctx, sender, []ledger.Key{oracleKey(sender)}, func(tx *ledger.Tx) error {
		o, err := ledger.Get[oracle.Oracle](tx, oracleKey(sender))
		if err != nil {
			return err
		}
		if !o.Active {
			return apperrors.ErrNotActive
		}
		o.Active = false
		tx.Emit(events.OracleDeactivated, sender, nil)
		out = o
		return tx.Put(oracleKey(sender), o)
	})
	return out, err
}

// OpenDetection starts collecting verdicts on a content record.
func (s *Service) OpenDetection(ctx context.Context, sender, contentID string) (oracle.Detection, error) {
	id := uuid.NewString()
	var out oracle.Detection
	err := s.ledger.Execute(ctx, sender, []ledger.Key{detectionKey(id)}, func(tx *ledger.Tx) error {
		if _, err := ledger.Get[provenance.Record](tx, ledger.K(provenance.KindContent, contentID)); err != nil {
			return err
		}
		out = oracle.Detection{
			ID:          id,
			ContentID:   contentID,
			Requester:   tx.Sender(),
			Submissions: map[string]oracle.Submission{},
			CreatedAt:   tx.Now(),
		}
		tx.Emit(events.DetectionOpened, id, map[string]string{"content_id": contentID})
		return tx.Put(detectionKey(id), out)
	})
	return out, err
}

// SubmitDetection records sender's verdict. Inactivity decay is charged
// before the submission is weighed, and consensus is attempted once the
// quorum is met.
func (s *Service) SubmitDetection(ctx context.Context, sender, detectionID string, isAI bool, confidence float64) (oracle.Detection, error) {
	if !validConfidence(confidence) {
		return oracle.Detection{}, apperrors.ErrInvalidConfidence
	}
	var out oracle.Detection
	err := s.ledger.Execute(ctx, sender, []ledger.Key{detectionKey(detectionID), oracleKey(sender)}, func(tx *ledger.Tx) error {
		o, found, err := ledger.Lookup[oracle.Oracle](tx, oracleKey(sender))
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrNotAuthorized.WithMessage("%s is not a registered oracle", sender)
		}
		if !o.Active {
			return apperrors.ErrNotActive
		}
		det, err := ledger.Get[oracle.Detection](tx, detectionKey(detectionID))
		if err != nil {
			return err
		}
		if det.Finalized {
			return apperrors.ErrConsensusAlreadyFinalized
		}
		if _, dup := det.Submissions[sender]; dup {
			return apperrors.ErrAlreadySubmitted
		}

		if decayed, periods := oracle.Decay(o.Reputation, o.LastActive, tx.Now(), s.protocol.DecayPeriod, s.protocol.DecayPerPeriod); periods > 0 {
			tx.Emit(events.OracleReputationChange, sender, map[string]string{
				"reason":   "decay",
				"periods":  strconv.Itoa(periods),
				"previous": strconv.Itoa(o.Reputation),
				"current":  strconv.Itoa(decayed),
			})
			o.Reputation = decayed
		}

		weight := int64(o.Reputation)
		if det.Submissions == nil {
			det.Submissions = map[string]oracle.Submission{}
		}
		det.Submissions[sender] = oracle.Submission{
			Oracle:      sender,
			IsAI:        isAI,
			Confidence:  confidence,
			Weight:      weight,
			SubmittedAt: tx.Now(),
		}
		det.SubmissionCount++
		if isAI {
			det.TotalAI += weight
		} else {
			det.TotalHuman += weight
		}
		o.TotalSubmissions++
		o.LastActive = tx.Now()
		if err := tx.Put(oracleKey(sender), o); err != nil {
			return err
		}

		tx.Emit(events.DetectionSubmitted, detectionID, map[string]string{
			"oracle": sender,
			"is_ai":  strconv.FormatBool(isAI),
			"weight": strconv.FormatInt(weight, 10),
		})
		if det.SubmissionCount >= s.protocol.OracleQuorum {
			s.evaluate(tx, &det)
		}
		out = det
		return tx.Put(detectionKey(detectionID), det)
	})
	if err != nil {
		return oracle.Detection{}, err
	}
	if out.Finalized {
		s.log.WithField("detection_id", detectionID).WithField("verdict_ai", out.Verdict).Info("detection consensus reached")
	}
	return out, nil
}

// ComputeConsensus evaluates a detection explicitly and reports whether it
// finalized.
func (s *Service) ComputeConsensus(ctx context.Context, sender, detectionID string) (bool, oracle.Detection, error) {
	var out oracle.Detection
	err := s.ledger.Execute(ctx, sender, []ledger.Key{detectionKey(detectionID)}, func(tx *ledger.Tx) error {
		det, err := ledger.Get[oracle.Detection](tx, detectionKey(detectionID))
		if err != nil {
			return err
		}
		if det.Finalized {
			return apperrors.ErrConsensusAlreadyFinalized
		}
		if det.SubmissionCount < s.protocol.OracleQuorum {
			return apperrors.ErrInsufficientSubmissions.WithDetails("quorum", s.protocol.OracleQuorum)
		}
		out = det
		if !s.evaluate(tx, &out) {
			return nil
		}
		return tx.Put(detectionKey(detectionID), out)
	})
	if err != nil {
		return false, oracle.Detection{}, err
	}
	return out.Finalized, out, nil
}

func (s *Service) evaluate(tx *ledger.Tx, det *oracle.Detection) bool {
	reached, verdict, pct := oracle.Consensus(det.TotalAI, det.TotalHuman, s.protocol.ConsensusThreshold)
	if !reached {
		return false
	}
	det.Finalized = true
	det.ConsensusReached = true
	det.Verdict = verdict
	det.Confidence = pct
	det.FinalizedAt = tx.Now()
	tx.Emit(events.ConsensusReached, det.ID, map[string]string{
		"content_id": det.ContentID,
		"is_ai":      strconv.FormatBool(verdict),
		"confidence": formatPct(pct),
	})
	return true
}

// UpdateOracleReputation settles one oracle's submission against the final
// verdict. Each submission settles once.
func (s *Service) UpdateOracleReputation(ctx context.Context, sender, detectionID, addr string) (oracle.Oracle, error) {
	var out oracle.Oracle
	err := s.ledger.Execute(ctx, sender, []ledger.Key{detectionKey(detectionID), oracleKey(addr)}, func(tx *ledger.Tx) error {
		det, err := ledger.Get[oracle.Detection](tx, detectionKey(detectionID))
		if err != nil {
			return err
		}
		if !det.Finalized {
			return apperrors.ErrConsensusNotReached
		}
		sub, ok := det.Submissions[addr]
		if !ok {
			return apperrors.NotFound("submission", addr)
		}
		if sub.ReputationApplied {
			return apperrors.ErrAlreadyApplied
		}
		o, err := ledger.Get[oracle.Oracle](tx, oracleKey(addr))
		if err != nil {
			return err
		}

		previous := o.Reputation
		agreed := sub.IsAI == det.Verdict
		if agreed {
			o.Reputation = min(o.Reputation+s.protocol.OracleReward, s.protocol.MaxReputation)
			o.AccurateSubmissions++
		} else {
			o.Reputation = max(o.Reputation-s.protocol.OraclePenalty, 0)
		}
		sub.ReputationApplied = true
		sub.ReputationDelta = o.Reputation - previous
		det.Submissions[addr] = sub

		tx.Emit(events.OracleReputationChange, addr, map[string]string{
			"reason":       "settlement",
			"detection_id": detectionID,
			"agreed":       strconv.FormatBool(agreed),
			"previous":     strconv.Itoa(previous),
			"current":      strconv.Itoa(o.Reputation),
		})
		if err := tx.Put(oracleKey(addr), o); err != nil {
			return err
		}
		out = o
		return tx.Put(detectionKey(detectionID), det)
	})
	return out, err
}

// OverrideVerdict forces a verdict onto a detection, finalized or not.
// Requires an admin capability and a justification. When the verdict flips,
// settlements made against the old verdict are reversed and left pending so
// they settle again against the new one, and the detection no longer counts
// as oracle consensus.
func (s *Service) OverrideVerdict(ctx context.Context, sender, token, detectionID string, isAI bool, confidence float64, justification string) (oracle.Detection, error) {
	if !validConfidence(confidence) {
		return oracle.Detection{}, apperrors.ErrInvalidConfidence
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return oracle.Detection{}, apperrors.InvalidArgument("justification", "required")
	}
	claims, err := s.caps.Parse(token)
	if err != nil {
		return oracle.Detection{}, err
	}
	// Settled submissions only exist on finalized detections, whose
	// submission set is frozen, so the oracles to lock are known up front.
	current, err := s.GetDetection(ctx, detectionID)
	if err != nil {
		return oracle.Detection{}, err
	}
	keys := []ledger.Key{capability.Key(claims.ID), detectionKey(detectionID)}
	for addr, sub := range current.Submissions {
		if sub.ReputationApplied {
			keys = append(keys, oracleKey(addr))
		}
	}
	var out oracle.Detection
	err = s.ledger.Execute(ctx, sender, keys, func(tx *ledger.Tx) error {
		if _, err := capability.Consume(tx, claims, capability.ActionOverrideVerdict, detectionID); err != nil {
			return err
		}
		det, err := ledger.Get[oracle.Detection](tx, detectionKey(detectionID))
		if err != nil {
			return err
		}
		if det.Finalized && det.Verdict != isAI {
			if err := s.reverseSettlements(tx, &det); err != nil {
				return err
			}
			det.ConsensusReached = false
		}
		det.Finalized = true
		det.Verdict = isAI
		det.Confidence = confidence
		det.FinalizedAt = tx.Now()
		det.Overrides = append(det.Overrides, oracle.Override{
			Actor:         tx.Sender(),
			Justification: justification,
			IsAI:          isAI,
			Confidence:    confidence,
			At:            tx.Now(),
		})
		tx.Emit(events.VerdictOverridden, detectionID, map[string]string{
			"is_ai":         strconv.FormatBool(isAI),
			"confidence":    formatPct(confidence),
			"justification": justification,
		})
		out = det
		return tx.Put(detectionKey(detectionID), det)
	})
	if err != nil {
		return oracle.Detection{}, err
	}
	s.log.WithField("detection_id", detectionID).WithField("admin", sender).Warn("detection verdict overridden")
	return out, nil
}

// reverseSettlements undoes every applied settlement on det.
func (s *Service) reverseSettlements(tx *ledger.Tx, det *oracle.Detection) error {
	addrs := make([]string, 0, len(det.Submissions))
	for addr, sub := range det.Submissions {
		if sub.ReputationApplied {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		sub := det.Submissions[addr]
		o, err := ledger.Get[oracle.Oracle](tx, oracleKey(addr))
		if err != nil {
			return err
		}
		previous := o.Reputation
		o.Reputation = min(max(o.Reputation-sub.ReputationDelta, 0), s.protocol.MaxReputation)
		if sub.IsAI == det.Verdict && o.AccurateSubmissions > 0 {
			o.AccurateSubmissions--
		}
		if err := tx.Put(oracleKey(addr), o); err != nil {
			return err
		}
		sub.ReputationApplied = false
		sub.ReputationDelta = 0
		det.Submissions[addr] = sub
		tx.Emit(events.OracleReputationChange, addr, map[string]string{
			"reason":       "override",
			"detection_id": det.ID,
			"previous":     strconv.Itoa(previous),
			"current":      strconv.Itoa(o.Reputation),
		})
	}
	return nil
}

// GetOracle returns an oracle as stored. Pending decay is not reflected until
// the oracle next submits.
func (s *Service) GetOracle(ctx context.Context, addr string) (oracle.Oracle, error) {
	return ledger.Fetch[oracle.Oracle](ctx, s.ledger, oracleKey(addr))
}

// ListOracles returns every registered oracle ordered by address.
func (s *Service) ListOracles(ctx context.Context) ([]oracle.Oracle, error) {
	out, err := ledger.FetchAll[oracle.Oracle](ctx, s.ledger, oracle.KindOracle, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// GetDetection returns a detection.
func (s *Service) GetDetection(ctx context.Context, id string) (oracle.Detection, error) {
	return ledger.Fetch[oracle.Detection](ctx, s.ledger, detectionKey(id))
}

// ListDetections returns the detections opened on a content record, oldest first.
func (s *Service) ListDetections(ctx context.Context, contentID string) ([]oracle.Detection, error) {
	return s.listDetections(ctx, func(d oracle.Detection) bool { return d.ContentID == contentID })
}

// OpenDetections returns every unfinalized detection, oldest first.
func (s *Service) OpenDetections(ctx context.Context) ([]oracle.Detection, error) {
	return s.listDetections(ctx, func(d oracle.Detection) bool { return !d.Finalized })
}

func (s *Service) listDetections(ctx context.Context, keep func(oracle.Detection) bool) ([]oracle.Detection, error) {
	out, err := ledger.FetchAll(ctx, s.ledger, oracle.KindDetection, keep)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// IsActive reports whether addr is a registered, active oracle.
func (s *Service) IsActive(ctx context.Context, addr string) (bool, error) {
	o, err := s.GetOracle(ctx, addr)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return o.Active, nil
}

// Settlement names a finalized submission whose reputation effect has not
// been applied yet.
type Settlement struct {
	DetectionID string `json:"detection_id"`
	Oracle      string `json:"oracle"`
}

// PendingSettlements lists unsettled submissions on finalized detections.
func (s *Service) PendingSettlements(ctx context.Context) ([]Settlement, error) {
	finalized, err := s.listDetections(ctx, func(d oracle.Detection) bool { return d.Finalized })
	if err != nil {
		return nil, err
	}
	var out []Settlement
	for _, det := range finalized {
		addrs := make([]string, 0, len(det.Submissions))
		for addr, sub := range det.Submissions {
			if !sub.ReputationApplied {
				addrs = append(addrs, addr)
			}
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			out = append(out, Settlement{DetectionID: det.ID, Oracle: addr})
		}
	}
	return out, nil
}
