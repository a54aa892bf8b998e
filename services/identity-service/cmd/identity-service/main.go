package main

import (
	"context"
	"net/http"
	"time"

	"github.com/servihub/servihub/libs/config"
	"github.com/servihub/servihub/libs/db"
	"github.com/servihub/servihub/libs/httpx"
	"github.com/servihub/servihub/libs/kafkax"
	otelx "github.com/servihub/servihub/libs/otel"
	"github.com/servihub/servihub/libs/runtime"
	"github.com/servihub/servihub/services/identity-service/internal/audit"
	"github.com/servihub/servihub/services/identity-service/internal/handlers"
	"github.com/servihub/servihub/services/identity-service/internal/outbox"
	"github.com/servihub/servihub/services/identity-service/internal/sessions"
	"github.com/servihub/servihub/services/identity-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "identity-service")
	port, err := config.Port("PORT", "8081")
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

	signer, err := buildSigner()
	if err != nil {
		logger.Error("signer setup failed", "err", err)
		panic(err)
	}

	accounts := storage.NewAccountRepository(pool)
	refreshRepo := sessions.NewRefreshRepository(pool)
	auditRepo := audit.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	refreshTTL := time.Duration(config.Int("REFRESH_TTL_HOURS", 720)) * time.Hour
	authHandler := handlers.NewAuthHandler(signer, pool, accounts, auditRepo, outboxRepo, refreshRepo, refreshTTL)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("/api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("/api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("/api/v1/auth/me", authHandler.Me)
	mux.HandleFunc("/api/v1/auth/rotate", authHandler.Rotate)
	mux.HandleFunc("/api/v1/auth/audit", authHandler.Audit)
	mux.HandleFunc("/.well-known/jwks.json", authHandler.JWKS)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "identity")
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

// buildSigner picks the signing backend from the environment. A multi-key PEM
// bundle enables rotation; a single key pins RS256; otherwise HS256 with a
// shared secret is the dev fallback.
func buildSigner() (handlers.TokenSigner, error) {
	if bundle := config.String("JWT_PRIVATE_KEYS_PEM", ""); bundle != "" {
		keys, err := handlers.ParseRS256KeySet(bundle)
		if err != nil {
			return nil, err
		}
		signer, err := handlers.NewRotatingRS256Signer(keys, config.String("JWT_ACTIVE_KID", ""))
		if err != nil {
			return nil, err
		}
		if rotating, ok := signer.(*handlers.RotatingSigner); ok {
			rotating.SetRotateKey(config.String("JWT_ROTATE_KEY", ""))
		}
		return signer, nil
	}
	if pemKey := config.String("JWT_PRIVATE_KEY_PEM", ""); pemKey != "" {
		return handlers.NewRS256Signer([]byte(pemKey), config.String("JWT_KID", ""))
	}
	return handlers.NewHS256Signer(config.String("JWT_SECRET", "dev-secret")), nil
}
