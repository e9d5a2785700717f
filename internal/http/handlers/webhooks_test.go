package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/imaginethisprinted/aistudio/internal/infra"
)

const testWebhookSecret = "whsec_test_secret"

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func decodeWebhook(t *testing.T, rr *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body webhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestStripeWebhookAcceptsSignedEvent(t *testing.T) {
	app := &App{Logger: infra.NopLogger(), StripeWebhookSecret: testWebhookSecret}
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session", "amount_total": 2500, "currency": "usd", "metadata": {"product_id": "p1"}}}
	}`)

	rr := httptest.NewRecorder()
	app.StripeWebhook(rr, signedRequest(t, payload, testWebhookSecret))

	body := decodeWebhook(t, rr)
	if !body.Received || body.Error != "" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestStripeWebhookBadSignatureStillAnswers200(t *testing.T) {
	app := &App{Logger: infra.NopLogger(), StripeWebhookSecret: testWebhookSecret}
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	rr := httptest.NewRecorder()
	app.StripeWebhook(rr, signedRequest(t, payload, "whsec_other"))

	body := decodeWebhook(t, rr)
	if !body.Received || body.Error != "invalid signature" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestStripeWebhookWithoutSecret(t *testing.T) {
	app := &App{Logger: infra.NopLogger()}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))

	rr := httptest.NewRecorder()
	app.StripeWebhook(rr, req)

	if body := decodeWebhook(t, rr); body.Error != "webhook not configured" {
		t.Fatalf("unexpected body %#v", body)
	}
}
