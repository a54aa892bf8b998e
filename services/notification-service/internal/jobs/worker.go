package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/servihub/servihub/libs/db"
	otelx "github.com/servihub/servihub/libs/otel"
	"github.com/servihub/servihub/services/notification-service/internal/email"
	"github.com/servihub/servihub/services/notification-service/internal/sms"
	"github.com/servihub/servihub/services/notification-service/internal/storage"
)

// Worker polls due reminder jobs and delivers them over the configured
// channels. Delivery failures are retried with a fixed backoff until the
// attempt budget runs out.
type Worker struct {
	pool          *db.Pool
	repo          *Repository
	notifications *storage.Repository
	emailSender   email.Sender
	smsSender     sms.Sender
	logger        *slog.Logger
	interval      time.Duration
	batchSize     int
	backoff       time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(
	pool *db.Pool,
	repo *Repository,
	notifications *storage.Repository,
	emailSender email.Sender,
	smsSender sms.Sender,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:          pool,
		repo:          repo,
		notifications: notifications,
		emailSender:   emailSender,
		smsSender:     smsSender,
		logger:        logger,
		interval:      cfg.Interval,
		batchSize:     cfg.BatchSize,
		backoff:       cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var sent []int64
	for _, job := range due {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)

		if err := w.deliver(jobCtx, job); err != nil {
			w.logger.Error("reminder delivery failed", "err", err, "booking_id", job.BookingID, "channel", job.Channel)
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff)
			if markErr := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); markErr != nil {
				return markErr
			}
			if attempts >= job.MaxAttempts {
				w.recordResult(jobCtx, job, "failed")
			}
			continue
		}

		sent = append(sent, job.ID)
		w.recordResult(jobCtx, job, "sent")
		w.logger.Info("reminder sent", "booking_id", job.BookingID, "channel", job.Channel)
	}

	if err := w.repo.MarkProcessed(ctx, tx, sent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) deliver(ctx context.Context, job Job) error {
	subject := "Upcoming appointment reminder"
	body := fmt.Sprintf("Reminder: your appointment starts at %s.", job.RemindAt.UTC().Format(time.RFC3339))
	if startAt, ok := job.TemplateData["start_time"].(string); ok && startAt != "" {
		body = fmt.Sprintf("Reminder: your appointment starts at %s.", startAt)
	}
	if name, ok := job.TemplateData["service_name"].(string); ok && name != "" {
		body = fmt.Sprintf("[%s] %s", name, body)
	}

	switch strings.ToLower(job.Channel) {
	case "email":
		return w.emailSender.Send(job.Recipient, subject, body)
	case "sms":
		return w.smsSender.Send(ctx, job.Recipient, body)
	default:
		return fmt.Errorf("unsupported channel: %s", job.Channel)
	}
}

func (w *Worker) recordResult(ctx context.Context, job Job, status string) {
	if err := w.notifications.Insert(ctx, storage.Notification{
		BookingID: job.BookingID,
		Kind:      "reminder",
		Channel:   job.Channel,
		Recipient: job.Recipient,
		Payload:   job.TemplateData,
		Status:    status,
	}); err != nil {
		w.logger.Error("failed to persist notification", "err", err, "booking_id", job.BookingID)
	}
}
