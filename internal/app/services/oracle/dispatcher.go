package oracle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/app/system"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// ContentReader loads the content record a detection refers to.
type ContentReader interface {
	Get(ctx context.Context, id string) (provenance.Record, error)
}

// Dispatcher periodically offers open detections to locally operated
// detectors and submits their verdicts under the bound oracle identity.
type Dispatcher struct {
	service  *Service
	content  ContentReader
	log      *logger.Logger
	interval time.Duration

	mu          sync.Mutex
	detectors   map[string]Detector
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

// NewDispatcher constructs a lifecycle-managed detector dispatcher.
func NewDispatcher(service *Service, content ContentReader, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("oracle-dispatcher")
	}
	return &Dispatcher{
		service:     service,
		content:     content,
		log:         log,
		interval:    10 * time.Second,
		detectors:   make(map[string]Detector),
		nextAttempt: make(map[string]time.Time),
	}
}

// WithDetector binds a detector to the oracle address it submits as.
func (d *Dispatcher) WithDetector(oracleAddr string, detector Detector) {
	d.mu.Lock()
	d.detectors[oracleAddr] = detector
	d.mu.Unlock()
}

func (d *Dispatcher) Name() string { return "oracle-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if len(d.detectors) == 0 {
		d.mu.Unlock()
		d.log.Info("no detectors configured; oracle dispatcher idle")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("oracle dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("oracle dispatcher stopped")
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	if d.service == nil || d.content == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	open, err := d.service.OpenDetections(ctx)
	if err != nil {
		d.log.WithError(err).Warn("oracle dispatcher tick failed")
		return
	}

	d.mu.Lock()
	addrs := make([]string, 0, len(d.detectors))
	detectors := make(map[string]Detector, len(d.detectors))
	for addr, det := range d.detectors {
		addrs = append(addrs, addr)
		detectors[addr] = det
	}
	d.mu.Unlock()
	sort.Strings(addrs)

	now := time.Now()
	for _, det := range open {
		content, err := d.content.Get(ctx, det.ContentID)
		if err != nil {
			d.log.WithError(err).WithField("detection_id", det.ID).Warn("load detection content failed")
			continue
		}
		for _, addr := range addrs {
			if _, done := det.Submissions[addr]; done {
				continue
			}
			attempt := det.ID + "/" + addr
			if !d.shouldAttempt(attempt, now) {
				continue
			}

			verdict, err := detectors[addr].Detect(ctx, det, content)
			if err != nil {
				d.log.WithError(err).
					WithField("detection_id", det.ID).
					WithField("oracle", addr).
					Warn("detector error")
				d.scheduleNext(attempt, 0)
				continue
			}

			updated, err := d.service.SubmitDetection(ctx, addr, det.ID, verdict.IsAI, verdict.Confidence)
			switch {
			case err == nil:
				d.clearSchedule(attempt)
				det = updated
			case errors.Is(err, apperrors.ErrConsensusAlreadyFinalized), errors.Is(err, apperrors.ErrAlreadySubmitted):
				d.clearSchedule(attempt)
			default:
				d.log.WithError(err).
					WithField("detection_id", det.ID).
					WithField("oracle", addr).
					Warn("submit detection failed")
				d.scheduleNext(attempt, 0)
			}
			if det.Finalized {
				break
			}
		}
	}
}

func (d *Dispatcher) shouldAttempt(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := d.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (d *Dispatcher) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = d.interval
	}
	d.mu.Lock()
	d.nextAttempt[id] = time.Now().Add(after)
	d.mu.Unlock()
}

func (d *Dispatcher) clearSchedule(id string) {
	d.mu.Lock()
	delete(d.nextAttempt, id)
	d.mu.Unlock()
}
