package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
)

const (
	DefaultSweepBatch = 100
	DefaultStallAfter = 2 * time.Minute
)

type allocationRetrier interface {
	RetryAllocation(ctx context.Context, shipmentID string) (*domain.Shipment, error)
	ResumeSubmission(ctx context.Context, shipmentID string) (*domain.Shipment, error)
}

// SweepOutcomeFunc receives one outcome per swept shipment: resumed, assigned,
// no_eligible_broker, skipped or error.
type SweepOutcomeFunc func(outcome string)

type SweeperOptions struct {
	Batch int
	// StallAfter is the age after which a shipment still awaiting its verdict is resumed.
	StallAfter time.Duration
	Logger     *slog.Logger
	OnOutcome  SweepOutcomeFunc
}

// AllocationSweeper finishes stalled submissions and retries broker allocation for shipments
// left in broker_review without a broker.
type AllocationSweeper struct {
	shipments  ports.ShipmentRepository
	retrier    allocationRetrier
	batch      int
	stallAfter time.Duration
	logger     *slog.Logger
	onOutcome  SweepOutcomeFunc
	now        func() time.Time
}

func NewAllocationSweeper(shipments ports.ShipmentRepository, retrier allocationRetrier, opts SweeperOptions) *AllocationSweeper {
	s := &AllocationSweeper{
		shipments:  shipments,
		retrier:    retrier,
		batch:      opts.Batch,
		stallAfter: opts.StallAfter,
		logger:     opts.Logger,
		onOutcome:  opts.OnOutcome,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.batch <= 0 {
		s.batch = DefaultSweepBatch
	}
	if s.stallAfter <= 0 {
		s.stallAfter = DefaultStallAfter
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.onOutcome == nil {
		s.onOutcome = func(string) {}
	}
	return s
}

// SweepOnce returns how many shipments received a broker. Stalled submissions are resumed
// first so they can be allocated in the same pass. Per-shipment failures are logged and do not
// stop the sweep.
func (s *AllocationSweeper) SweepOnce(ctx context.Context) (int, error) {
	if err := s.resumeStalled(ctx); err != nil {
		return 0, err
	}

	ids, err := s.shipments.ListUnassigned(ctx, s.batch)
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}
		shipment, err := s.retrier.RetryAllocation(ctx, id)
		switch {
		case err == nil && shipment != nil && shipment.AssignedBrokerID != nil:
			assigned++
			s.onOutcome("assigned")
		case domain.IsKind(err, domain.ErrNoEligibleBroker):
			s.onOutcome("no_eligible_broker")
		case isSkippable(err):
			s.onOutcome("skipped")
		case err != nil:
			s.onOutcome("error")
			s.logger.Warn("allocation_retry_failed", "shipment_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.logger.Info("allocation_sweep_completed", "candidates", len(ids), "assigned", assigned)
	}
	return assigned, nil
}

func (s *AllocationSweeper) resumeStalled(ctx context.Context) error {
	ids, err := s.shipments.ListStalledSubmissions(ctx, s.now().Add(-s.stallAfter), s.batch)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := s.retrier.ResumeSubmission(ctx, id)
		switch {
		case err == nil:
			s.onOutcome("resumed")
		case isSkippable(err):
			s.onOutcome("skipped")
		default:
			s.onOutcome("error")
			s.logger.Warn("submission_resume_failed", "shipment_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.logger.Info("stalled_submissions_swept", "candidates", len(ids))
	}
	return nil
}

func isSkippable(err error) bool {
	return domain.IsKind(err, domain.ErrInvalidTransition) || domain.IsKind(err, domain.ErrShipmentNotFound)
}

// Run sweeps every interval until ctx is done. sweepDone, if set, sees each sweep's error.
func (s *AllocationSweeper) Run(ctx context.Context, interval time.Duration, sweepDone func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("allocation_sweep_failed", "error", err)
			}
			if sweepDone != nil {
				sweepDone(err)
			}
		}
	}
}
