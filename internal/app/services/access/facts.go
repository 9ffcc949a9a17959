package access

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/verifier"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
)

// Reserved evidence keys. Authorize fills them from the ledger and drops
// anything the caller sent under the same names, so conditions on them
// cannot be met by self-assertion.
const (
	FactCaller     = "caller"
	FactContent    = "content"
	FactReputation = "reputation"
	FactNow        = "now"
)

// CallerFacts describe the requesting identity as the ledger knows it.
type CallerFacts struct {
	Address            string `json:"address"`
	VerifierReputation int    `json:"verifier_reputation"`
	VerifierStake      int64  `json:"verifier_stake"`
	VerifierActive     bool   `json:"verifier_active"`
	OracleReputation   int    `json:"oracle_reputation"`
	OracleActive       bool   `json:"oracle_active"`
}

// Reputation is the highest reputation the caller holds in an active role,
// zero when it holds none.
func (c CallerFacts) Reputation() int {
	best := 0
	if c.VerifierActive && c.VerifierReputation > best {
		best = c.VerifierReputation
	}
	if c.OracleActive && c.OracleReputation > best {
		best = c.OracleReputation
	}
	return best
}

// ContentFacts describe the policy's content record.
type ContentFacts struct {
	ID                string `json:"id"`
	Owner             string `json:"owner"`
	TrustScore        int    `json:"trust_score"`
	VerificationCount int    `json:"verification_count"`
}

func (s *Service) callerFacts(ctx context.Context, addr string, now time.Time) (CallerFacts, error) {
	facts := CallerFacts{Address: addr}

	v, err := ledger.Fetch[verifier.Verifier](ctx, s.ledger, ledger.K(verifier.KindVerifier, addr))
	switch {
	case err == nil:
		facts.VerifierReputation = v.Reputation
		facts.VerifierStake = v.Stake
		facts.VerifierActive = v.Active
	case !errors.Is(err, apperrors.ErrNotFound):
		return CallerFacts{}, err
	}

	o, err := ledger.Fetch[oracle.Oracle](ctx, s.ledger, ledger.K(oracle.KindOracle, addr))
	switch {
	case err == nil:
		// Pending inactivity decay counts even though it is only written on
		// the oracle's next submission.
		facts.OracleReputation, _ = oracle.Decay(o.Reputation, o.LastActive, now, s.protocol.DecayPeriod, s.protocol.DecayPerPeriod)
		facts.OracleActive = o.Active
	case !errors.Is(err, apperrors.ErrNotFound):
		return CallerFacts{}, err
	}
	return facts, nil
}

// evaluationDocument merges caller evidence with ledger facts. Evidence must
// be a JSON object; reserved keys are overwritten.
func evaluationDocument(evidence []byte, caller CallerFacts, content provenance.Record, now time.Time) ([]byte, error) {
	doc := map[string]interface{}{}
	if trimmed := bytes.TrimSpace(evidence); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("evidence must be a JSON object: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	}
	doc[FactCaller] = caller
	doc[FactReputation] = caller.Reputation()
	doc[FactContent] = ContentFacts{
		ID:                content.ID,
		Owner:             content.Owner,
		TrustScore:        content.TrustScore,
		VerificationCount: content.VerificationCount,
	}
	doc[FactNow] = now.UTC().Format(time.RFC3339)
	return json.Marshal(doc)
}
