// Package sweeper finalizes work whose deadline has passed. Deadlines are
// never enforced by timers inside the ledger; this job only saves callers
// from having to trigger finalization themselves.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	oracledomain "github.com/R3E-Network/provenance_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/verifier"
	"github.com/R3E-Network/provenance_layer/internal/app/services/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/system"
	"github.com/R3E-Network/provenance_layer/internal/config"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// TaskFinalizer closes verification tasks.
type TaskFinalizer interface {
	ExpiredTasks(ctx context.Context, now time.Time) ([]verifier.Task, error)
	FinalizeTask(ctx context.Context, sender, taskID string) (verifier.Task, error)
}

// ReputationSettler applies oracle reputation after consensus.
type ReputationSettler interface {
	PendingSettlements(ctx context.Context) ([]oracle.Settlement, error)
	UpdateOracleReputation(ctx context.Context, sender, detectionID, addr string) (oracledomain.Oracle, error)
}

// CapabilityPurger removes expired capability records.
type CapabilityPurger interface {
	PurgeExpired(ctx context.Context, operator string) (int, error)
}

// Result summarises one sweep.
type Result struct {
	Finalized int `json:"finalized"`
	Settled   int `json:"settled"`
	Purged    int `json:"purged"`
	Failed    int `json:"failed"`
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	tasks    TaskFinalizer
	oracles  ReputationSettler
	caps     CapabilityPurger
	schedule string
	operator string
	now      func() time.Time
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	sweepMu sync.Mutex
}

// New builds a sweeper. now supplies the time expired tasks are judged
// against; nil uses the host clock. Any of the collaborators may be nil.
func New(cfg config.SweeperConfig, tasks TaskFinalizer, oracles ReputationSettler, caps CapabilityPurger, now func() time.Time, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	operator := cfg.Operator
	if operator == "" {
		operator = "sweeper"
	}
	return &Sweeper{
		tasks:    tasks,
		oracles:  oracles,
		caps:     caps,
		schedule: schedule,
		operator: operator,
		now:      now,
		log:      log,
	}
}

func (s *Sweeper) Name() string { return "sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("sweeper schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("sweeper stopped")
	return nil
}

// Sweep finalizes expired tasks, settles oracle reputation for finalized
// detections and purges expired capabilities. Concurrent sweeps run one at
// a time.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var res Result
	if s.tasks != nil {
		s.finalizeTasks(ctx, &res)
	}
	if s.oracles != nil {
		s.settleOracles(ctx, &res)
	}
	if s.caps != nil {
		n, err := s.caps.PurgeExpired(ctx, s.operator)
		res.Purged = n
		if err != nil {
			res.Failed++
			s.log.WithError(err).Warn("purge expired capabilities failed")
		}
	}
	if res.Finalized+res.Settled+res.Purged+res.Failed > 0 {
		s.log.WithField("finalized", res.Finalized).
			WithField("settled", res.Settled).
			WithField("purged", res.Purged).
			WithField("failed", res.Failed).
			Info("sweep complete")
	}
	return res
}

func (s *Sweeper) finalizeTasks(ctx context.Context, res *Result) {
	expired, err := s.tasks.ExpiredTasks(ctx, s.now())
	if err != nil {
		res.Failed++
		s.log.WithError(err).Warn("list expired tasks failed")
		return
	}
	for _, task := range expired {
		_, err := s.tasks.FinalizeTask(ctx, s.operator, task.ID)
		switch {
		case err == nil:
			res.Finalized++
		case errors.Is(err, apperrors.ErrAlreadyFinalized), errors.Is(err, apperrors.ErrVotingOpen):
		default:
			res.Failed++
			s.log.WithError(err).WithField("task_id", task.ID).Warn("finalize task failed")
		}
	}
}

func (s *Sweeper) settleOracles(ctx context.Context, res *Result) {
	pending, err := s.oracles.PendingSettlements(ctx)
	if err != nil {
		res.Failed++
		s.log.WithError(err).Warn("list pending settlements failed")
		return
	}
	for _, p := range pending {
		_, err := s.oracles.UpdateOracleReputation(ctx, s.operator, p.DetectionID, p.Oracle)
		switch {
		case err == nil:
			res.Settled++
		case errors.Is(err, apperrors.ErrAlreadyApplied):
		default:
			res.Failed++
			s.log.WithError(err).
				WithField("detection_id", p.DetectionID).
				WithField("oracle", p.Oracle).
				Warn("settle oracle reputation failed")
		}
	}
}
