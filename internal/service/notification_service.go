package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/pkg/config"
	"github.com/noah-isme/lms-circulation-api/pkg/jobs"
)

// Notification types emitted by circulation events.
const (
	NotifyRequestApproved     = "request_approved"
	NotifyRequestRejected     = "request_rejected"
	NotifyWaitlistPromoted    = "waitlist_promoted"
	NotifyPenaltyAssessed     = "penalty_assessed"
	NotifyAcquisitionReviewed = "acquisition_reviewed"
)

// Notification is one message for one member.
type Notification struct {
	Type        string
	RecipientID string
	Subject     string
	Data        map[string]any
}

// NotificationSender delivers a notification to its channel. Implementations
// must be safe for concurrent use by queue workers.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender is the default sender. It records deliveries in the structured
// log, which is where they land until an email or push channel is wired up.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds the logging sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send writes the notification to the log.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Sugar().Infow("notification delivered",
		"type", n.Type,
		"recipient", n.RecipientID,
		"subject", n.Subject,
		"data", n.Data,
	)
	return nil
}

// NotificationService fans circulation events out to members through a
// background worker pool. Dispatch never blocks request handling; a full
// queue drops the message with a warning.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService wires the dispatcher onto a worker queue.
func NewNotificationService(sender NotificationSender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		n, ok := job.Payload.(Notification)
		if !ok {
			logger.Sugar().Warnw("dropping malformed notification job", "job_id", job.ID)
			return nil
		}
		return sender.Send(ctx, n)
	}
	queue := jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})
	return &NotificationService{queue: queue, logger: logger}
}

// Start launches the worker pool.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *NotificationService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Dispatch enqueues a notification. Delivery is best-effort; failures are
// logged and never surface to the caller.
func (s *NotificationService) Dispatch(n Notification) {
	if s == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    n.Type,
		Payload: n,
	})
	if err != nil {
		s.logger.Sugar().Warnw("notification dropped", "type", n.Type, "recipient", n.RecipientID, "error", err)
	}
}
