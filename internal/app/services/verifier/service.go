package verifier

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/verifier"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// ContentScorer folds a finalized task's approval into content trust.
type ContentScorer interface {
	ApplyScore(tx *ledger.Tx, contentID string, score int) (provenance.Record, error)
}

// Service runs the staked verifier network.
type Service struct {
	ledger   *ledger.Engine
	caps     *capability.Authority
	content  ContentScorer
	protocol config.Protocol
	log      *logger.Logger
}

// New creates a verifier network service.
func New(engine *ledger.Engine, caps *capability.Authority, content ContentScorer, protocol config.Protocol, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("verifier")
	}
	return &Service{ledger: engine, caps: caps, content: content, protocol: protocol, log: log}
}

func verifierKey(addr string) ledger.Key { return ledger.K(verifier.KindVerifier, addr) }
func taskKey(id string) ledger.Key       { return ledger.K(verifier.KindTask, id) }
func balanceKey(addr string) ledger.Key  { return ledger.K(verifier.KindBalance, addr) }
func treasuryKey() ledger.Key            { return ledger.K(verifier.KindTreasury, verifier.TreasuryID) }
func contentKey(id string) ledger.Key    { return ledger.K(provenance.KindContent, id) }

func errOverflow(field string) error {
	return apperrors.ErrInvalidAmount.WithMessage("%s would overflow", field)
}

// RegisterVerifier stakes sender into the network.
func (s *Service) RegisterVerifier(ctx context.Context, sender string, stake int64) (verifier.Verifier, error) {
	if stake < s.protocol.MinStake {
		return verifier.Verifier{}, apperrors.ErrInsufficientStake.WithDetails("min_stake", s.protocol.MinStake)
	}
	var out verifier.Verifier
	err := s.ledger.Execute(ctx, sender, []ledger.Key{verifierKey(sender)}, func(tx *ledger.Tx) error {
		exists, err := tx.Exists(verifierKey(sender))
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrAlreadyRegistered
		}
		out = verifier.Verifier{
			Address:      sender,
			Stake:        stake,
			Reputation:   s.protocol.VerifierInitialReputation,
			Active:       true,
			RegisteredAt: tx.Now(),
			UpdatedAt:    tx.Now(),
		}
		tx.Emit(events.VerifierRegistered, sender, map[string]string{"stake": strconv.FormatInt(stake, 10)})
		return tx.Put(verifierKey(sender), out)
	})
	if err != nil {
		return verifier.Verifier{}, err
	}
	s.log.WithField("verifier", sender).WithField("stake", stake).Info("verifier registered")
	return out, nil
}

// AddStake increases a verifier's stake. Only the verifier itself may call.
func (s *Service) AddStake(ctx context.Context, sender, addr string, amount int64) (verifier.Verifier, error) {
	if sender != addr {
		return verifier.Verifier{}, apperrors.ErrNotAuthorized
	}
	if amount <= 0 {
		return verifier.Verifier{}, apperrors.ErrInvalidAmount
	}
	var out verifier.Verifier
	err := s.ledger.Execute(ctx, sender, []ledger.Key{verifierKey(addr)}, func(tx *ledger.Tx) error {
		v, err := ledger.Get[verifier.Verifier](tx, verifierKey(addr))
		if err != nil {
			return err
		}
		if !v.Active {
			return apperrors.ErrNotActive
		}
		stake, ok := verifier.AddAmount(v.Stake, amount)
		if !ok {
			return errOverflow("stake")
		}
		v.Stake = stake
		v.UpdatedAt = tx.Now()
		tx.Emit(events.VerifierStakeAdded, addr, map[string]string{
			"amount": strconv.FormatInt(amount, 10),
			"stake":  strconv.FormatInt(v.Stake, 10),
		})
		out = v
		return tx.Put(verifierKey(addr), v)
	})
	return out, err
}

// WithdrawStake moves stake to the sender's balance. An active verifier must
// keep at least the minimum stake; a deactivated one may withdraw the rest.
func (s *Service) WithdrawStake(ctx context.Context, sender string, amount int64) (verifier.Verifier, error) {
	if amount <= 0 {
		return verifier.Verifier{}, apperrors.ErrInvalidAmount
	}
	var out verifier.Verifier
	err := s.ledger.Execute(ctx, sender, []ledger.Key{verifierKey(sender), balanceKey(sender)}, func(tx *ledger.Tx) error {
		v, err := ledger.Get[verifier.Verifier](tx, verifierKey(sender))
		if err != nil {
			return err
		}
		remaining := v.Stake - amount
		if remaining < 0 || (v.Active && remaining < s.protocol.MinStake) {
			return apperrors.ErrInsufficientStake.WithDetails("stake", v.Stake)
		}
		v.Stake = remaining
		v.UpdatedAt = tx.Now()
		if err := s.credit(tx, sender, amount); err != nil {
			return err
		}
		tx.Emit(events.VerifierStakeWithdrawn, sender, map[string]string{
			"amount": strconv.FormatInt(amount, 10),
			"stake":  strconv.FormatInt(v.Stake, 10),
		})
		out = v
		return tx.Put(verifierKey(sender), v)
	})
	return out, err
}

// CreateTask opens a voting task on a content record. The reward share of
// payment is reserved on the task; the remainder goes to treasury fees.
func (s *Service) CreateTask(ctx context.Context, sender, contentID string, payment int64) (verifier.Task, error) {
	if payment <= 0 {
		return verifier.Task{}, apperrors.ErrInvalidAmount
	}
	id := uuid.NewString()
	var out verifier.Task
	err := s.ledger.Execute(ctx, sender, []ledger.Key{taskKey(id), treasuryKey()}, func(tx *ledger.Tx) error {
		if _, err := ledger.Get[provenance.Record](tx, contentKey(contentID)); err != nil {
			return err
		}
		reward := verifier.ScaleAmount(payment, s.protocol.RewardPoolPercent, 100)
		treasury, _, err := ledger.Lookup[verifier.Treasury](tx, treasuryKey())
		if err != nil {
			return err
		}
		fees, ok := verifier.AddAmount(treasury.Fees, payment-reward)
		if !ok {
			return errOverflow("treasury fees")
		}
		treasury.Fees = fees
		treasury.UpdatedAt = tx.Now()
		if err := tx.Put(treasuryKey(), treasury); err != nil {
			return err
		}

		out = verifier.Task{
			ID:              id,
			ContentID:       contentID,
			Requester:       tx.Sender(),
			Payment:         payment,
			RewardAmount:    reward,
			RewardRemaining: reward,
			CreatedAt:       tx.Now(),
			Deadline:        tx.Now().Add(s.protocol.VotingPeriod),
			Votes:           map[string]verifier.Vote{},
		}
		tx.Emit(events.TaskCreated, id, map[string]string{
			"content_id": contentID,
			"reward":     strconv.FormatInt(reward, 10),
			"deadline":   out.Deadline.Format(time.RFC3339),
		})
		return tx.Put(taskKey(id), out)
	})
	if err != nil {
		return verifier.Task{}, err
	}
	s.log.WithField("task_id", id).WithField("content_id", contentID).Info("verification task created")
	return out, nil
}

// CastVote records addr's weighted vote on a task.
func (s *Service) CastVote(ctx context.Context, sender, taskID, addr string, approve bool) (verifier.Task, error) {
	if sender != addr {
		return verifier.Task{}, apperrors.ErrNotAuthorized
	}
	var out verifier.Task
	err := s.ledger.Execute(ctx, sender, []ledger.Key{taskKey(taskID), verifierKey(addr)}, func(tx *ledger.Tx) error {
		v, found, err := ledger.Lookup[verifier.Verifier](tx, verifierKey(addr))
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrNotAuthorized.WithMessage("%s is not a registered verifier", addr)
		}
		if !v.Active {
			return apperrors.ErrNotActive
		}
		task, err := ledger.Get[verifier.Task](tx, taskKey(taskID))
		if err != nil {
			return err
		}
		if task.Finalized || tx.Now().After(task.Deadline) {
			return apperrors.ErrVotingClosed
		}
		if _, voted := task.Votes[addr]; voted {
			return apperrors.ErrAlreadyVoted
		}
		power := verifier.VotingPower(v.Stake, v.Reputation)
		if power == 0 {
			// zero power is reported as a stake shortfall even when reputation is the cause
			return apperrors.ErrInsufficientStake.WithDetails("voting_power", 0)
		}

		if task.Votes == nil {
			task.Votes = map[string]verifier.Vote{}
		}
		total, ok := verifier.AddAmount(task.TotalPower, power)
		if !ok {
			return errOverflow("task voting power")
		}
		task.Votes[addr] = verifier.Vote{Verifier: addr, Approve: approve, Power: power, CastAt: tx.Now()}
		if approve {
			task.VotesFor += power
		} else {
			task.VotesAgainst += power
		}
		task.TotalPower = total

		v.TotalVerifications++
		v.UpdatedAt = tx.Now()
		if err := tx.Put(verifierKey(addr), v); err != nil {
			return err
		}
		tx.Emit(events.VoteCast, taskID, map[string]string{
			"verifier": addr,
			"approve":  strconv.FormatBool(approve),
			"power":    strconv.FormatInt(power, 10),
		})
		out = task
		return tx.Put(taskKey(taskID), task)
	})
	return out, err
}

// FinalizeTask closes a task after its deadline. Anyone may call. The
// approval percentage is folded into the content trust score; a task
// nobody voted on returns its reward to the treasury pool.
func (s *Service) FinalizeTask(ctx context.Context, sender, taskID string) (verifier.Task, error) {
	// The content id is immutable on a task, so it can be read ahead of the
	// transaction to complete the lock set.
	pending, err := s.GetTask(ctx, taskID)
	if err != nil {
		return verifier.Task{}, err
	}
	var out verifier.Task
	keys := []ledger.Key{taskKey(taskID), contentKey(pending.ContentID), treasuryKey()}
	err = s.ledger.Execute(ctx, sender, keys, func(tx *ledger.Tx) error {
		task, err := ledger.Get[verifier.Task](tx, taskKey(taskID))
		if err != nil {
			return err
		}
		if task.Finalized {
			return apperrors.ErrAlreadyFinalized
		}
		if !tx.Now().After(task.Deadline) {
			return apperrors.ErrVotingOpen.WithDetails("deadline", task.Deadline)
		}

		task.Finalized = true
		task.Result = task.VotesFor > task.VotesAgainst
		task.FinalizedAt = tx.Now()

		if task.TotalPower > 0 {
			if s.content != nil {
				if _, err := s.content.ApplyScore(tx, task.ContentID, task.ApprovalPercent()); err != nil {
					return err
				}
			}
		} else if task.RewardRemaining > 0 {
			treasury, _, err := ledger.Lookup[verifier.Treasury](tx, treasuryKey())
			if err != nil {
				return err
			}
			pool, ok := verifier.AddAmount(treasury.RewardPool, task.RewardRemaining)
			if !ok {
				return errOverflow("treasury reward pool")
			}
			treasury.RewardPool = pool
			treasury.UpdatedAt = tx.Now()
			task.RewardRemaining = 0
			if err := tx.Put(treasuryKey(), treasury); err != nil {
				return err
			}
		}

		tx.Emit(events.TaskFinalized, taskID, map[string]string{
			"content_id":    task.ContentID,
			"result":        strconv.FormatBool(task.Result),
			"votes_for":     strconv.FormatInt(task.VotesFor, 10),
			"votes_against": strconv.FormatInt(task.VotesAgainst, 10),
		})
		out = task
		return tx.Put(taskKey(taskID), task)
	})
	if err != nil {
		return verifier.Task{}, err
	}
	s.log.WithField("task_id", taskID).WithField("result", out.Result).Info("verification task finalized")
	return out, nil
}

// ClaimResult reports what a claim paid.
type ClaimResult struct {
	TaskID     string `json:"task_id"`
	Verifier   string `json:"verifier"`
	Majority   bool   `json:"majority"`
	Amount     int64  `json:"amount"`
	Reputation int    `json:"reputation"`
}

// ClaimReward settles sender's vote on a finalized task.
func (s *Service) ClaimReward(ctx context.Context, sender, taskID string) (ClaimResult, error) {
	var out ClaimResult
	keys := []ledger.Key{taskKey(taskID), verifierKey(sender), balanceKey(sender)}
	err := s.ledger.Execute(ctx, sender, keys, func(tx *ledger.Tx) error {
		task, err := ledger.Get[verifier.Task](tx, taskKey(taskID))
		if err != nil {
			return err
		}
		vote, voted := task.Votes[sender]
		if !voted {
			return apperrors.ErrNotAuthorized.WithMessage("%s did not vote on task %s", sender, taskID)
		}
		if !task.Finalized {
			return apperrors.ErrVotingOpen
		}
		if vote.Claimed {
			return apperrors.ErrAlreadyClaimed
		}
		v, err := ledger.Get[verifier.Verifier](tx, verifierKey(sender))
		if err != nil {
			return err
		}

		out = ClaimResult{TaskID: taskID, Verifier: sender, Majority: vote.Approve == task.Result}
		previous := v.Reputation
		if out.Majority {
			share := proportionalShare(task.RewardAmount, vote.Power, task.TotalPower)
			if share > task.RewardRemaining {
				return apperrors.ErrInsufficientRewardPool
			}
			task.RewardRemaining -= share
			if err := s.credit(tx, sender, share); err != nil {
				return err
			}
			v.Reputation = min(v.Reputation+s.protocol.VerifierReward, s.protocol.MaxReputation)
			v.SuccessfulVerifications++
			out.Amount = share
			tx.Emit(events.RewardClaimed, taskID, map[string]string{
				"verifier": sender,
				"amount":   strconv.FormatInt(share, 10),
			})
		} else {
			v.Reputation = max(v.Reputation-s.protocol.VerifierPenalty, 0)
		}
		out.Reputation = v.Reputation
		v.UpdatedAt = tx.Now()

		vote.Claimed = true
		task.Votes[sender] = vote
		if previous != v.Reputation {
			tx.Emit(events.VerifierReputationChange, sender, map[string]string{
				"task_id":  taskID,
				"previous": strconv.Itoa(previous),
				"current":  strconv.Itoa(v.Reputation),
			})
		}
		if err := tx.Put(verifierKey(sender), v); err != nil {
			return err
		}
		return tx.Put(taskKey(taskID), task)
	})
	return out, err
}

// Slash forfeits part of a verifier's stake into the treasury reward pool
// and deactivates it. Requires an admin capability.
func (s *Service) Slash(ctx context.Context, sender, token, addr string) (verifier.Verifier, error) {
	claims, err := s.caps.Parse(token)
	if err != nil {
		return verifier.Verifier{}, err
	}
	var out verifier.Verifier
	keys := []ledger.Key{capability.Key(claims.ID), verifierKey(addr), treasuryKey()}
	err = s.ledger.Execute(ctx, sender, keys, func(tx *ledger.Tx) error {
		if _, err := capability.Consume(tx, claims, capability.ActionSlash, addr); err != nil {
			return err
		}
		v, err := ledger.Get[verifier.Verifier](tx, verifierKey(addr))
		if err != nil {
			return err
		}
		if !v.Active {
			return apperrors.ErrNotActive
		}
		amount := verifier.ScaleAmount(v.Stake, s.protocol.SlashPercent, 100)
		v.Stake -= amount
		v.Active = false
		v.UpdatedAt = tx.Now()

		treasury, _, err := ledger.Lookup[verifier.Treasury](tx, treasuryKey())
		if err != nil {
			return err
		}
		pool, ok := verifier.AddAmount(treasury.RewardPool, amount)
		if !ok {
			return errOverflow("treasury reward pool")
		}
		treasury.RewardPool = pool
		treasury.UpdatedAt = tx.Now()
		if err := tx.Put(treasuryKey(), treasury); err != nil {
			return err
		}
		tx.Emit(events.VerifierSlashed, addr, map[string]string{"amount": strconv.FormatInt(amount, 10)})
		out = v
		return tx.Put(verifierKey(addr), v)
	})
	if err != nil {
		return verifier.Verifier{}, err
	}
	s.log.WithField("verifier", addr).WithField("admin", sender).WithField("stake", out.Stake).Warn("verifier slashed")
	return out, nil
}

func (s *Service) credit(tx *ledger.Tx, addr string, amount int64) error {
	bal, _, err := ledger.Lookup[verifier.Balance](tx, balanceKey(addr))
	if err != nil {
		return err
	}
	available, ok := verifier.AddAmount(bal.Available, amount)
	if !ok {
		return errOverflow("balance")
	}
	bal.Address = addr
	bal.Available = available
	bal.UpdatedAt = tx.Now()
	return tx.Put(balanceKey(addr), bal)
}

func proportionalShare(reward, power, total int64) int64 {
	return verifier.ScaleAmount(reward, power, total)
}

// GetVerifier returns a verifier.
func (s *Service) GetVerifier(ctx context.Context, addr string) (verifier.Verifier, error) {
	return ledger.Fetch[verifier.Verifier](ctx, s.ledger, verifierKey(addr))
}

// VotingPower returns a verifier's current voting power.
func (s *Service) VotingPower(ctx context.Context, addr string) (int64, error) {
	v, err := s.GetVerifier(ctx, addr)
	if err != nil {
		return 0, err
	}
	return verifier.VotingPower(v.Stake, v.Reputation), nil
}

// GetTask returns a task.
func (s *Service) GetTask(ctx context.Context, id string) (verifier.Task, error) {
	return ledger.Fetch[verifier.Task](ctx, s.ledger, taskKey(id))
}

// ListTasks returns the tasks opened on a content record, oldest first.
func (s *Service) ListTasks(ctx context.Context, contentID string) ([]verifier.Task, error) {
	tasks, err := ledger.FetchAll(ctx, s.ledger, verifier.KindTask, func(t verifier.Task) bool {
		return t.ContentID == contentID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// ExpiredTasks lists unfinalized tasks whose deadline passed before now.
func (s *Service) ExpiredTasks(ctx context.Context, now time.Time) ([]verifier.Task, error) {
	return ledger.FetchAll(ctx, s.ledger, verifier.KindTask, func(t verifier.Task) bool {
		return !t.Finalized && now.After(t.Deadline)
	})
}

// Balance returns credited funds for addr; unknown addresses have zero.
func (s *Service) Balance(ctx context.Context, addr string) (verifier.Balance, error) {
	bal, err := ledger.Fetch[verifier.Balance](ctx, s.ledger, balanceKey(addr))
	if errors.Is(err, apperrors.ErrNotFound) {
		return verifier.Balance{Address: addr}, nil
	}
	return bal, err
}

// Treasury returns the global treasury.
func (s *Service) Treasury(ctx context.Context) (verifier.Treasury, error) {
	t, err := ledger.Fetch[verifier.Treasury](ctx, s.ledger, treasuryKey())
	if errors.Is(err, apperrors.ErrNotFound) {
		return verifier.Treasury{}, nil
	}
	return t, err
}
