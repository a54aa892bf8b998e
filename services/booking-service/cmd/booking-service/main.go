package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/servihub/servihub/libs/config"
	"github.com/servihub/servihub/libs/db"
	"github.com/servihub/servihub/libs/httpx"
	"github.com/servihub/servihub/libs/kafkax"
	otelx "github.com/servihub/servihub/libs/otel"
	"github.com/servihub/servihub/libs/runtime"
	"github.com/servihub/servihub/services/booking-service/internal/catalog"
	"github.com/servihub/servihub/services/booking-service/internal/consumer"
	"github.com/servihub/servihub/services/booking-service/internal/handlers"
	"github.com/servihub/servihub/services/booking-service/internal/inbox"
	"github.com/servihub/servihub/services/booking-service/internal/outbox"
	"github.com/servihub/servihub/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	// Prefer the gRPC schedule source when the generated bindings are built
	// in; the HTTP client is the default path.
	var source catalog.ScheduleSource
	if grpcSource, err := catalog.NewGRPCSource(config.String("CATALOG_GRPC_ADDR", "")); err != nil {
		logger.Error("catalog grpc source init failed; using http", "err", err)
	} else if grpcSource != nil {
		source = grpcSource
	}
	if source == nil {
		source = catalog.NewHTTPClient(config.String("CATALOG_URL", "http://catalog-service:8082"))
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// payment.captured.v1 confirms a pending booking once the payment
	// service has collected the money.
	inboxRepo := inbox.NewRepository(pool)
	paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "payment.captured.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID  string `json:"booking_id"`
			CapturedAt string `json:"captured_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.BookingID == "" {
			logger.Error("missing booking_id in payment event", "topic", msg.Topic)
			return nil
		}
		capturedAt, err := time.Parse(time.RFC3339, payload.CapturedAt)
		if err != nil {
			capturedAt = time.Now().UTC()
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := repo.MarkPaid(ctx, tx, payload.BookingID, capturedAt); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	go paymentConsumer.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(repo, outboxRepo, source, logger)
	slotsHandler := handlers.NewSlotsHandler(source, repo, logger)
	adminHandler := handlers.NewAdminHandler(repo, logger)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", slotsHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/admin/stats/daily", adminHandler.DailyStats)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
