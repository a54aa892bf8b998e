package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newWebhookHandler(secret string) *Handler {
	return New(nil, nil, slog.New(slog.DiscardHandler), Config{
		StripeWebhookSecret: secret,
	})
}

func TestStripeWebhook_NotConfigured(t *testing.T) {
	h := newWebhookHandler("")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/webhooks/stripe", strings.NewReader("{}"))
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	h := newWebhookHandler("whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/webhooks/stripe", strings.NewReader("{}"))
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	h := newWebhookHandler("whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/webhooks/stripe", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestStripeWebhook_MethodNotAllowed(t *testing.T) {
	h := newWebhookHandler("whsec_test")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/webhooks/stripe", nil)
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}
