package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

type requestSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type overdueSweeper interface {
	Sweep(ctx context.Context) (*models.SweepResult, error)
}

// SweepScheduler runs the expiry and overdue sweeps on a fixed interval.
// Every sweep is status guarded, so overlapping runs from several replicas are harmless.
type SweepScheduler struct {
	requests    requestSweeper
	enrollments requestSweeper
	overdue     overdueSweeper
	interval    time.Duration
	logger      *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweepScheduler builds a scheduler. A non-positive interval defaults to one hour.
func NewSweepScheduler(requests, enrollments requestSweeper, overdue overdueSweeper, interval time.Duration, logger *zap.Logger) *SweepScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepScheduler{
		requests:    requests,
		enrollments: enrollments,
		overdue:     overdue,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval until Stop or ctx is done.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.logger.Info("starting sweep scheduler", zap.Duration("interval", s.interval))
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-flight pass.
func (s *SweepScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *SweepScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("sweep scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweep scheduler cancelled")
			return
		}
	}
}

// RunOnce executes every sweep once. A failing sweep is logged and does not stop the others.
func (s *SweepScheduler) RunOnce(ctx context.Context) *models.SweepResult {
	result := &models.SweepResult{Sweep: "all", RanAt: time.Now().UTC()}
	var err error
	if result.Requests, err = s.requests.SweepExpired(ctx); err != nil {
		s.logger.Error("request expiry sweep failed", zap.Error(err))
	}
	if result.Enrollments, err = s.enrollments.SweepExpired(ctx); err != nil {
		s.logger.Error("enrollment expiry sweep failed", zap.Error(err))
	}
	overdue, err := s.overdue.Sweep(ctx)
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err))
	} else {
		result.Invoices = overdue.Invoices
		result.Installments = overdue.Installments
	}
	return result
}
