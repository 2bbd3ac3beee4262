package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
)

type overdueMarker interface {
	MarkOverdue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error)
}

// OverdueService flips pending invoices and installments past their due date to overdue.
// Partial records are left alone; only pending ones move.
type OverdueService struct {
	invoices     overdueMarker
	installments overdueMarker
	tx           transactor
	metrics      *MetricsService
	logger       *zap.Logger
	now          func() time.Time
}

// NewOverdueService constructs OverdueService.
func NewOverdueService(invoices, installments overdueMarker, tx transactor, metrics *MetricsService, logger *zap.Logger) *OverdueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueService{
		invoices:     invoices,
		installments: installments,
		tx:           tx,
		metrics:      metrics,
		logger:       logger,
		now:          systemClock,
	}
}

// Sweep runs both updates in one transaction. Re-running it changes nothing.
func (s *OverdueService) Sweep(ctx context.Context) (*models.SweepResult, error) {
	now := s.now()
	result := &models.SweepResult{Sweep: "overdue", RanAt: now}
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		if result.Invoices, err = s.invoices.MarkOverdue(ctx, exec, now); err != nil {
			return err
		}
		result.Installments, err = s.installments.MarkOverdue(ctx, exec, now)
		return err
	})
	if err != nil {
		return nil, txError(s.logger, err, "failed to mark overdue invoices")
	}
	s.metrics.RecordSweep("invoices", result.Invoices)
	s.metrics.RecordSweep("installments", result.Installments)
	if result.Invoices > 0 || result.Installments > 0 {
		s.logger.Info("marked overdue",
			zap.Int64("invoices", result.Invoices),
			zap.Int64("installments", result.Installments))
	}
	return result, nil
}
