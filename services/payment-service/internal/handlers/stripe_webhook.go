package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/servihub/servihub/services/payment-service/internal/outbox"
	"github.com/servihub/servihub/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). The gateway exposes this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(session.Metadata["booking_id"])
		if bookingID == "" {
			h.logger.Warn("stripe: missing booking_id metadata on checkout session", "stripe_session_id", session.ID)
			break
		}
		accountID := strings.TrimSpace(session.Metadata["account_id"])

		if err := h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to update checkout session", http.StatusInternalServerError)
			return
		}
		if err := h.repo.InsertPayment(r.Context(), tx, storage.Payment{
			ID:              uuid.NewString(),
			BookingID:       bookingID,
			AccountID:       accountID,
			AmountCents:     session.AmountTotal,
			Currency:        strings.ToLower(string(session.Currency)),
			Status:          "captured",
			StripeSessionID: session.ID,
			CapturedAt:      occurredAt,
		}); err != nil {
			http.Error(w, "failed to record payment", http.StatusInternalServerError)
			return
		}

		payload, err := json.Marshal(map[string]any{
			"booking_id":   bookingID,
			"account_id":   accountID,
			"amount_cents": session.AmountTotal,
			"currency":     strings.ToLower(string(session.Currency)),
			"captured_at":  occurredAt.Format(time.RFC3339),
		})
		if err != nil {
			http.Error(w, "failed to marshal payment event", http.StatusInternalServerError)
			return
		}
		if err := h.outboxRepo.Insert(r.Context(), tx, outbox.Event{
			AggregateType: "payment",
			AggregateID:   bookingID,
			EventType:     outbox.EventPaymentCaptured,
			Payload:       payload,
		}); err != nil {
			http.Error(w, "failed to enqueue payment event", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		if err := h.repo.MarkCheckoutSessionExpired(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to update checkout session", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
