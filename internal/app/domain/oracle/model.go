package oracle

import "time"

const (
	KindOracle    = "oracle"
	KindDetection = "detection"
)

// Oracle is a registered AI-detection model operator.
type Oracle struct {
	Address             string    `json:"address"`
	Name                string    `json:"name"`
	ModelType           string    `json:"model_type"`
	Version             string    `json:"version"`
	Reputation          int       `json:"reputation"`
	TotalSubmissions    int       `json:"total_submissions"`
	AccurateSubmissions int       `json:"accurate_submissions"`
	LastActive          time.Time `json:"last_active"`
	Active              bool      `json:"active"`
	RegisteredAt        time.Time `json:"registered_at"`
}

// Submission is one oracle's verdict on a detection.
type Submission struct {
	Oracle            string    `json:"oracle"`
	IsAI              bool      `json:"is_ai"`
	Confidence        float64   `json:"confidence"`
	Weight            int64     `json:"weight"`
	SubmittedAt       time.Time `json:"submitted_at"`
	ReputationApplied bool      `json:"reputation_applied"`
	// ReputationDelta is what settlement changed; a flipping override reverses it.
	ReputationDelta int `json:"reputation_delta,omitempty"`
}

// Override records an administrative verdict.
type Override struct {
	Actor         string    `json:"actor"`
	Justification string    `json:"justification"`
	IsAI          bool      `json:"is_ai"`
	Confidence    float64   `json:"confidence"`
	At            time.Time `json:"at"`
}

// Detection collects submissions on whether a content record is AI generated.
type Detection struct {
	ID               string                `json:"id"`
	ContentID        string                `json:"content_id"`
	Requester        string                `json:"requester"`
	Submissions      map[string]Submission `json:"submissions"`
	SubmissionCount  int                   `json:"submission_count"`
	TotalAI          int64                 `json:"total_ai_votes"`
	TotalHuman       int64                 `json:"total_human_votes"`
	Finalized        bool                  `json:"finalized"`
	ConsensusReached bool                  `json:"consensus_reached"`
	Verdict          bool                  `json:"verdict"`
	Confidence       float64               `json:"confidence"`
	CreatedAt        time.Time             `json:"created_at"`
	FinalizedAt      time.Time             `json:"finalized_at,omitempty"`
	Overrides        []Override            `json:"overrides,omitempty"`
}

// Consensus evaluates weighted totals. aiPct and humanPct sum to 100 when any
// weight was cast; with zero weight nothing is reached. The threshold test
// cross-multiplies so integral shares compare exactly.
func Consensus(totalAI, totalHuman int64, threshold float64) (reached, verdict bool, pct float64) {
	total := totalAI + totalHuman
	if total == 0 {
		return false, false, 0
	}
	switch {
	case float64(totalAI)*100 >= threshold*float64(total):
		return true, true, float64(totalAI) / float64(total) * 100
	case float64(totalHuman)*100 >= threshold*float64(total):
		return true, false, float64(totalHuman) / float64(total) * 100
	}
	return false, false, 0
}

// Decay applies lazy inactivity decay: every whole period elapsed since
// lastActive costs perPeriod points, floored at zero.
func Decay(reputation int, lastActive, now time.Time, period time.Duration, perPeriod int) (int, int) {
	if lastActive.IsZero() || period <= 0 || !now.After(lastActive) {
		return reputation, 0
	}
	periods := int(now.Sub(lastActive) / period)
	if periods == 0 {
		return reputation, 0
	}
	reputation -= periods * perPeriod
	if reputation < 0 {
		reputation = 0
	}
	return reputation, periods
}
