/**
 * @description
 * This file defines the Go structs that model incoming webhook payloads from
 * the payment processor. These structures are essential for safely
 * unmarshaling the JSON envelope received at the webhook endpoint and
 * processing it in a type-safe manner.
 *
 * @notes
 * - Three observed event shapes describe the same underlying payment:
 *   checkout.session.completed, checkout.session.async_payment_succeeded and
 *   payment_intent.succeeded. Each carries a different subset of the
 *   correlation IDs, so every field here is best-effort.
 * - Metadata keys are set by us at checkout-session creation and echoed back
 *   by the processor on every event for that session.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Payment-processor webhook event types handled by this service.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventAsyncPaymentSucceeded    = "checkout.session.async_payment_succeeded"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// StripeWebhookEvent is the top-level envelope of a webhook payload:
// {id, type, data: {object: ...}}.
type StripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeEventMetadata carries the correlation IDs we attach at
// checkout-session creation.
type StripeEventMetadata struct {
	OrderID       string `json:"orderId"`
	ApplicationID string `json:"applicationId"`
	LandlordID    string `json:"landlordId"`
}

// StripeCheckoutSessionObject models the `data.object` of checkout.session.*
// events.
type StripeCheckoutSessionObject struct {
	ID            string              `json:"id"`
	PaymentIntent string              `json:"payment_intent"`
	PaymentStatus string              `json:"payment_status"` // 'paid' | 'unpaid' | 'no_payment_required'
	AmountTotal   int64               `json:"amount_total"`
	Currency      string              `json:"currency"`
	Metadata      StripeEventMetadata `json:"metadata"`
}

// StripePaymentIntentObject models the `data.object` of payment_intent.*
// events. It has no session id; resolution falls back to the intent id or to
// a secondary session lookup.
type StripePaymentIntentObject struct {
	ID       string              `json:"id"`
	Amount   int64               `json:"amount"`
	Currency string              `json:"currency"`
	Metadata StripeEventMetadata `json:"metadata"`
}

// StripeSubscriptionObject models the `data.object` of customer.subscription.*
// events, used only to keep the landlord billing mirror current.
type StripeSubscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"` // unix seconds
	Metadata         struct {
		LandlordID string `json:"landlordId"`
		Plan       string `json:"plan"`
	} `json:"metadata"`
	Items struct {
		Data []struct {
			Price struct {
				Nickname string `json:"nickname"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// OrderFinalizedEvent is the internal event published to RabbitMQ when an
// order transitions to paid for the first time. The consumer runs the
// screening-result processor for it.
type OrderFinalizedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	EventID       string    `json:"event_id"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

// OpsNotifyEvent is the internal event carrying an operator notification for
// verified-tier orders or unresolved payments.
type OpsNotifyEvent struct {
	Kind          string     `json:"kind"` // 'verified_review' | 'unresolved_payment'
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	ApplicationID *uuid.UUID `json:"application_id,omitempty"`
	Subject       string     `json:"subject"`
	Detail        string     `json:"detail"`
	At            time.Time  `json:"at"`
}
