package verifier

import (
	"math"
	"math/big"
	"time"
)

const (
	KindVerifier = "verifier"
	KindTask     = "task"
	KindBalance  = "balance"
	KindTreasury = "treasury"

	// TreasuryID addresses the single treasury object.
	TreasuryID = "global"

	// ReputationScale is the divisor turning reputation into a stake fraction.
	ReputationScale = 1000
)

// Verifier is a staked participant.
type Verifier struct {
	Address                 string    `json:"address"`
	Stake                   int64     `json:"stake"`
	Reputation              int       `json:"reputation"`
	TotalVerifications      int       `json:"total_verifications"`
	SuccessfulVerifications int       `json:"successful_verifications"`
	Active                  bool      `json:"active"`
	RegisteredAt            time.Time `json:"registered_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// VotingPower is stake scaled by the reputation fraction.
func VotingPower(stake int64, reputation int) int64 {
	return ScaleAmount(stake, int64(reputation), ReputationScale)
}

// ScaleAmount returns amount*num/den computed without intermediate overflow,
// saturating at the int64 range. A zero den yields zero.
func ScaleAmount(amount, num, den int64) int64 {
	if den == 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(num))
	v.Quo(v, big.NewInt(den))
	switch {
	case v.IsInt64():
		return v.Int64()
	case v.Sign() < 0:
		return math.MinInt64
	default:
		return math.MaxInt64
	}
}

// AddAmount returns a+b, or false when the sum leaves the int64 range.
func AddAmount(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return a, false
	}
	return a + b, true
}

// Vote is one verifier's ballot on a task.
type Vote struct {
	Verifier string    `json:"verifier"`
	Approve  bool      `json:"approve"`
	Power    int64     `json:"power"`
	CastAt   time.Time `json:"cast_at"`
	Claimed  bool      `json:"claimed"`
}

// Task is a time-boxed verification vote on a content record.
type Task struct {
	ID              string          `json:"id"`
	ContentID       string          `json:"content_id"`
	Requester       string          `json:"requester"`
	Payment         int64           `json:"payment"`
	RewardAmount    int64           `json:"reward_amount"`
	RewardRemaining int64           `json:"reward_remaining"`
	CreatedAt       time.Time       `json:"created_at"`
	Deadline        time.Time       `json:"deadline"`
	VotesFor        int64           `json:"votes_for"`
	VotesAgainst    int64           `json:"votes_against"`
	TotalPower      int64           `json:"total_power"`
	Votes           map[string]Vote `json:"votes"`
	Finalized       bool            `json:"finalized"`
	Result          bool            `json:"result"`
	FinalizedAt     time.Time       `json:"finalized_at,omitempty"`
}

// ApprovalPercent is the share of power that approved, in [0,100].
func (t Task) ApprovalPercent() int {
	if t.TotalPower == 0 {
		return 0
	}
	return int(ScaleAmount(t.VotesFor, 100, t.TotalPower))
}

// Balance holds credited rewards and withdrawn stake for an address.
type Balance struct {
	Address   string    `json:"address"`
	Available int64     `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Treasury collects task fees and slashed stake.
type Treasury struct {
	RewardPool int64     `json:"reward_pool"`
	Fees       int64     `json:"fees"`
	UpdatedAt  time.Time `json:"updated_at"`
}
