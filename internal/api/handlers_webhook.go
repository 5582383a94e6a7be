/**
 * @description
 * This file contains the HTTP handler for incoming payment-processor
 * webhooks. It is the entry point for every payment notification the service
 * acts on.
 *
 * Key features:
 * - Security: Validates the HMAC signature of incoming webhooks over the raw
 *   request body before any parsing happens.
 * - Routing: A dispatch table keyed on the event type maps each known event
 *   to its handler; unknown types are acknowledged and ignored.
 * - Acknowledgement contract: once the signature checks out the handler
 *   always returns 200, whatever the processing outcome, so the processor
 *   stops redelivering. Non-200 responses are reserved for requests that
 *   never authenticated.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/rentora/screening-service/internal/app"
	"github.com/rentora/screening-service/internal/domain"
)

// WebhookHandler processes incoming payment webhooks.
type WebhookHandler struct {
	service *app.Service
	secret  string
	routes  map[string]func(*WebhookHandler, *http.Request, domain.StripeWebhookEvent) webhookOutcome
}

type webhookOutcome struct {
	Ignored bool
	Reason  string
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(service *app.Service, secret string) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		routes: map[string]func(*WebhookHandler, *http.Request, domain.StripeWebhookEvent) webhookOutcome{
			domain.EventCheckoutSessionCompleted: (*WebhookHandler).handleCheckoutSession,
			domain.EventAsyncPaymentSucceeded:    (*WebhookHandler).handleCheckoutSession,
			domain.EventPaymentIntentSucceeded:   (*WebhookHandler).handlePaymentIntent,
			domain.EventSubscriptionCreated:      (*WebhookHandler).handleSubscription,
			domain.EventSubscriptionUpdated:      (*WebhookHandler).handleSubscription,
			domain.EventSubscriptionDeleted:      (*WebhookHandler).handleSubscription,
		},
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		log.Printf("level=error component=webhook msg=\"webhook secret is not configured; rejecting delivery\"")
		http.Error(w, "Webhook not configured", http.StatusBadRequest)
		return
	}

	// The signature covers the raw body, so it must be read before decoding.
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get("X-Signature"), body) {
		log.Printf("level=warn component=webhook msg=\"invalid webhook signature\" remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var event domain.StripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" || event.Type == "" {
		// Authenticated but malformed: acknowledge so it is not redelivered.
		log.Printf("level=warn component=webhook msg=\"malformed webhook payload acknowledged\" err=%v", err)
		h.acknowledge(w, webhookOutcome{Ignored: true, Reason: "malformed_payload"})
		return
	}

	handle, known := h.routes[event.Type]
	if !known {
		log.Printf("level=info component=webhook event_id=%s event_type=%s msg=\"unhandled event type acknowledged\"", event.ID, event.Type)
		h.acknowledge(w, webhookOutcome{Ignored: true, Reason: "unhandled_event_type"})
		return
	}

	outcome := handle(h, r, event)
	h.acknowledge(w, outcome)
}

func (h *WebhookHandler) acknowledge(w http.ResponseWriter, outcome webhookOutcome) {
	response := map[string]any{"received": true}
	if outcome.Ignored {
		response["ignored"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *WebhookHandler) handleCheckoutSession(r *http.Request, event domain.StripeWebhookEvent) webhookOutcome {
	var session domain.StripeCheckoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		log.Printf("level=warn component=webhook event_id=%s msg=\"checkout session payload decode failed\" err=%v", event.ID, err)
		return webhookOutcome{Ignored: true, Reason: "malformed_object"}
	}
	if session.PaymentStatus != "" && session.PaymentStatus != "paid" {
		log.Printf("level=info component=webhook event_id=%s session_id=%s payment_status=%s msg=\"session not paid; ignoring\"", event.ID, session.ID, session.PaymentStatus)
		return webhookOutcome{Ignored: true, Reason: "session_not_paid"}
	}

	result := h.service.FinalizePayment(r.Context(), app.PaymentSignal{
		EventID:          event.ID,
		EventType:        event.Type,
		OrderID:          session.Metadata.OrderID,
		ApplicationID:    session.Metadata.ApplicationID,
		LandlordID:       session.Metadata.LandlordID,
		SessionID:        session.ID,
		PaymentIntentID:  session.PaymentIntent,
		AmountTotalCents: session.AmountTotal,
		Currency:         session.Currency,
	})
	return outcomeFromFinalize(result)
}

func (h *WebhookHandler) handlePaymentIntent(r *http.Request, event domain.StripeWebhookEvent) webhookOutcome {
	var intent domain.StripePaymentIntentObject
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		log.Printf("level=warn component=webhook event_id=%s msg=\"payment intent payload decode failed\" err=%v", event.ID, err)
		return webhookOutcome{Ignored: true, Reason: "malformed_object"}
	}

	result := h.service.FinalizePayment(r.Context(), app.PaymentSignal{
		EventID:          event.ID,
		EventType:        event.Type,
		OrderID:          intent.Metadata.OrderID,
		ApplicationID:    intent.Metadata.ApplicationID,
		LandlordID:       intent.Metadata.LandlordID,
		PaymentIntentID:  intent.ID,
		AmountTotalCents: intent.Amount,
		Currency:         intent.Currency,
	})
	return outcomeFromFinalize(result)
}

func (h *WebhookHandler) handleSubscription(r *http.Request, event domain.StripeWebhookEvent) webhookOutcome {
	var sub domain.StripeSubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		log.Printf("level=warn component=webhook event_id=%s msg=\"subscription payload decode failed\" err=%v", event.ID, err)
		return webhookOutcome{Ignored: true, Reason: "malformed_object"}
	}
	if err := h.service.HandleSubscriptionEvent(r.Context(), event.Type, sub); err != nil {
		log.Printf("level=error component=webhook event_id=%s subscription=%s msg=\"billing mirror update failed\" err=%v", event.ID, sub.ID, err)
		return webhookOutcome{Ignored: true, Reason: "billing_update_failed"}
	}
	return webhookOutcome{}
}

func outcomeFromFinalize(result app.FinalizeResult) webhookOutcome {
	// Duplicate results carry OK as well, so the dedupe flags are checked
	// first to keep the ignored marker on redeliveries.
	switch {
	case result.AlreadyProcessed:
		return webhookOutcome{Ignored: true, Reason: "event_already_processed"}
	case result.AlreadyFinalized:
		return webhookOutcome{Ignored: true, Reason: "order_already_finalized"}
	case result.OK:
		return webhookOutcome{}
	default:
		return webhookOutcome{Ignored: true, Reason: result.ErrorCode}
	}
}

// isValidSignature validates the HMAC-SHA256 signature over the raw body.
// The signature header may be hex, base64, or carry a "sha256=" prefix.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, part := range strings.Split(header, ",") {
		candidate := strings.TrimSpace(part)
		if lower := strings.ToLower(candidate); strings.HasPrefix(lower, "sha256=") {
			candidate = strings.TrimSpace(candidate[len("sha256="):])
		}
		if decoded, err := hex.DecodeString(candidate); err == nil && hmac.Equal(decoded, expected) {
			return true
		}
		if decoded, err := base64.StdEncoding.DecodeString(candidate); err == nil && hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
