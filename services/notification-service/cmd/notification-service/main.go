package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/servihub/servihub/libs/config"
	"github.com/servihub/servihub/libs/db"
	"github.com/servihub/servihub/libs/httpx"
	"github.com/servihub/servihub/libs/kafkax"
	otelx "github.com/servihub/servihub/libs/otel"
	"github.com/servihub/servihub/libs/runtime"
	"github.com/servihub/servihub/services/notification-service/internal/consumer"
	"github.com/servihub/servihub/services/notification-service/internal/email"
	"github.com/servihub/servihub/services/notification-service/internal/inbox"
	"github.com/servihub/servihub/services/notification-service/internal/jobs"
	"github.com/servihub/servihub/services/notification-service/internal/sms"
	"github.com/servihub/servihub/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type bookingEventPayload struct {
	BookingID     string `json:"booking_id"`
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	CancelledAt   string `json:"cancelled_at"`
	Reason        string `json:"reason"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	jobsRepo := jobs.NewRepository(pool)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@servihub.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""))
	default:
		smsSender = sms.NewNoopSender()
	}

	reminderWorker := jobs.NewWorker(pool, jobsRepo, notificationsRepo, emailSender, smsSender, logger, jobs.WorkerConfig{
		Interval:  config.Seconds("REMINDER_POLL_SECONDS", 5*time.Second),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.Seconds("REMINDER_BACKOFF_SECONDS", 60*time.Second),
	})
	go reminderWorker.Run(ctx)

	reminderLeads := []time.Duration{
		config.Seconds("REMINDER_LEAD_SECONDS", 24*time.Hour),
		config.Seconds("REMINDER_SECOND_LEAD_SECONDS", 1*time.Hour),
	}
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	createdConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_BOOKING_CREATED_TOPIC", "booking.created.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload bookingEventPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.BookingID == "" || payload.CustomerEmail == "" {
			logger.Error("missing booking fields in event", "topic", msg.Topic)
			return nil
		}
		startTime, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time in booking event", "err", err, "booking_id", payload.BookingID)
			return nil
		}

		subject := "Booking received"
		body := fmt.Sprintf("Your booking for %s is registered and awaiting payment.", startTime.Format(time.RFC3339))
		status := "sent"
		if err := emailSender.Send(payload.CustomerEmail, subject, body); err != nil {
			logger.Error("confirmation email failed", "err", err, "booking_id", payload.BookingID)
			status = "failed"
		}
		if err := notificationsRepo.Insert(ctx, storage.Notification{
			BookingID: payload.BookingID,
			Kind:      "booking_confirmation",
			Channel:   "email",
			Recipient: payload.CustomerEmail,
			Payload:   map[string]any{"start_time": payload.StartTime},
			Status:    status,
		}); err != nil {
			return err
		}

		if payload.CustomerPhone != "" {
			smsStatus := "sent"
			if err := smsSender.Send(ctx, payload.CustomerPhone, body); err != nil {
				logger.Error("confirmation sms failed", "err", err, "booking_id", payload.BookingID)
				smsStatus = "failed"
			}
			if err := notificationsRepo.Insert(ctx, storage.Notification{
				BookingID: payload.BookingID,
				Kind:      "booking_confirmation",
				Channel:   "sms",
				Recipient: payload.CustomerPhone,
				Payload:   map[string]any{"start_time": payload.StartTime},
				Status:    smsStatus,
			}); err != nil {
				return err
			}
		}

		for _, lead := range reminderLeads {
			remindAt := startTime.Add(-lead)
			if remindAt.Before(time.Now()) {
				continue
			}
			if err := jobsRepo.Insert(ctx, jobs.Job{
				IdempotencyKey: fmt.Sprintf("reminder:%s:%s", payload.BookingID, lead),
				BookingID:      payload.BookingID,
				Channel:        "email",
				Recipient:      payload.CustomerEmail,
				RemindAt:       remindAt,
				TemplateData: map[string]any{
					"start_time":    payload.StartTime,
					"customer_name": payload.CustomerName,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	go createdConsumer.Run(ctx)

	cancelledConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_BOOKING_CANCELLED_TOPIC", "booking.cancelled.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload bookingEventPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.BookingID == "" {
			logger.Error("missing booking_id in cancellation event", "topic", msg.Topic)
			return nil
		}

		if err := jobsRepo.CancelByBooking(ctx, payload.BookingID); err != nil {
			return err
		}
		if payload.CustomerEmail == "" {
			return nil
		}

		subject := "Booking cancelled"
		body := fmt.Sprintf("Your booking for %s has been cancelled.", payload.StartTime)
		status := "sent"
		if err := emailSender.Send(payload.CustomerEmail, subject, body); err != nil {
			logger.Error("cancellation email failed", "err", err, "booking_id", payload.BookingID)
			status = "failed"
		}
		return notificationsRepo.Insert(ctx, storage.Notification{
			BookingID: payload.BookingID,
			Kind:      "booking_cancellation",
			Channel:   "email",
			Recipient: payload.CustomerEmail,
			Payload:   map[string]any{"cancelled_at": payload.CancelledAt, "reason": payload.Reason},
			Status:    status,
		})
	})
	go cancelledConsumer.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
