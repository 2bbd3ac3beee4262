package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// NotificationService persists in-app notifications from a background queue.
// Dispatch never blocks and never reports failure to the caller.
type NotificationService struct {
	store   notificationStore
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the service and its worker queue.
func NewNotificationService(store notificationStore, metrics *MetricsService, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{store: store, metrics: metrics, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("notifications", s.handle, cfg)
	return s
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains queued notifications and stops the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch queues an event for recipientID.
func (s *NotificationService) Dispatch(ctx context.Context, recipientID string, event models.NotificationEvent, payload interface{}) {
	if recipientID == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("notification payload not encodable", zap.String("event", string(event)), zap.Error(err))
		raw = []byte(`{}`)
	}
	n := &models.Notification{ID: uuid.NewString(), RecipientID: recipientID, Event: event, Payload: raw}
	if err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: string(event), Payload: n}); err != nil {
		s.metrics.RecordNotificationDropped()
		s.logger.Warn("notification dropped", zap.String("event", string(event)), zap.String("recipient_id", recipientID), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(*models.Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	return s.store.Create(ctx, n)
}
