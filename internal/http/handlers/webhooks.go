package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

const maxWebhookBytes = 65536

type webhookResponse struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

// StripeWebhook verifies and records Stripe events. It always answers 200 so
// Stripe does not retry deliveries we cannot process.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := a.Logger.With().Str("provider", "stripe").Logger()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		log.Warn().Err(err).Msg("api: read webhook body failed")
		a.json(w, http.StatusOK, webhookResponse{Received: true, Error: "unreadable body"})
		return
	}
	if a.StripeWebhookSecret == "" {
		log.Warn().Msg("api: stripe webhook secret not configured")
		a.json(w, http.StatusOK, webhookResponse{Received: true, Error: "webhook not configured"})
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), a.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn().Err(err).Msg("api: stripe signature verification failed")
		a.json(w, http.StatusOK, webhookResponse{Received: true, Error: "invalid signature"})
		return
	}

	log = log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			log.Warn().Err(err).Msg("api: decode checkout session failed")
			a.json(w, http.StatusOK, webhookResponse{Received: true, Error: "malformed event"})
			return
		}
		log.Info().
			Str("session_id", session.ID).
			Int64("amount_total", session.AmountTotal).
			Str("currency", string(session.Currency)).
			Str("product_id", session.Metadata["product_id"]).
			Msg("api: checkout completed")
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			log.Warn().Err(err).Msg("api: decode payment intent failed")
			a.json(w, http.StatusOK, webhookResponse{Received: true, Error: "malformed event"})
			return
		}
		log.Info().
			Str("payment_intent_id", intent.ID).
			Int64("amount", intent.Amount).
			Str("status", string(intent.Status)).
			Msg("api: payment intent update")
	default:
		log.Debug().Msg("api: stripe event ignored")
	}
	a.json(w, http.StatusOK, webhookResponse{Received: true})
}
