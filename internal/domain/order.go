/**
 * @description
 * This file defines the core domain models for the screening-service.
 * These structs represent screening orders, the gateway-event dedupe ledger,
 * the audit log, and the verified-review queue used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Stripe correlation IDs (`StripeSessionID`, `StripePaymentIntentID`) are
 *   pointers because they become known progressively as checkout advances.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Service levels for a screening purchase.
const (
	ServiceLevelSelfServe  = "SELF_SERVE"
	ServiceLevelVerified   = "VERIFIED"
	ServiceLevelVerifiedAI = "VERIFIED_AI"
)

// Order payment statuses.
const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// ScreeningOrder represents one screening purchase attempt, independent of
// payment status. This struct maps directly to the `screening_orders` table.
type ScreeningOrder struct {
	ID                    uuid.UUID  `json:"id"`
	ReferenceID           *string    `json:"reference_id,omitempty"`
	ApplicationID         uuid.UUID  `json:"application_id"`
	LandlordID            uuid.UUID  `json:"landlord_id"`
	PropertyID            *uuid.UUID `json:"property_id,omitempty"`
	UnitID                *uuid.UUID `json:"unit_id,omitempty"`
	AmountCents           int64      `json:"amount_cents"`
	TotalAmountCents      int64      `json:"total_amount_cents"`
	Currency              string     `json:"currency"`
	ScreeningTier         string     `json:"screening_tier"`
	Addons                []string   `json:"addons,omitempty"`
	ServiceLevel          string     `json:"service_level"` // SELF_SERVE | VERIFIED | VERIFIED_AI
	StripeSessionID       *string    `json:"stripe_session_id,omitempty"`
	StripePaymentIntentID *string    `json:"stripe_payment_intent_id,omitempty"`
	PaymentStatus         string     `json:"payment_status"` // 'unpaid' | 'paid'
	Finalized             bool       `json:"finalized"`
	FinalizedAt           *time.Time `json:"finalized_at,omitempty"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
	LastStripeEventID     *string    `json:"last_stripe_event_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// GatewayEvent is one row of the dedupe ledger: a webhook event id that has
// been durably accepted. Its presence is the dedupe signal. Maps to the
// `stripe_events` table, keyed by the processor-assigned event id.
type GatewayEvent struct {
	EventID         string     `json:"event_id"`
	EventType       string     `json:"event_type"`
	OrderID         *uuid.UUID `json:"order_id,omitempty"`
	SessionID       *string    `json:"session_id,omitempty"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	Resolved        bool       `json:"resolved"` // false if the event arrived before its order could be found
	ReceivedAt      time.Time  `json:"received_at"`
}

// Audit event types recorded in the screening_events ledger.
const (
	AuditEligibilityChecked = "eligibility_checked"
	AuditCheckoutBlocked    = "checkout_blocked"
	AuditCheckoutCreated    = "checkout_created"
	AuditPaid               = "paid"
	AuditWebhookIgnored     = "webhook_ignored"
	AuditWebhookUnresolved  = "webhook_unresolved"
	AuditReportReady        = "report_ready"
	AuditOpsNotified        = "ops_notified"
	AuditOpsNotifyFailed    = "ops_notify_failed"
)

// ScreeningEvent is one append-only audit row per lifecycle transition.
// Maps to the `screening_events` table.
type ScreeningEvent struct {
	ID            uuid.UUID      `json:"id"`
	ApplicationID uuid.UUID      `json:"application_id"`
	Type          string         `json:"type"`
	Actor         string         `json:"actor"`
	Meta          map[string]any `json:"meta,omitempty"`
	At            time.Time      `json:"at"`
}

// VerifiedQueueEntry is a human-review work item, created at most once per
// order when the purchased service level requires manual verification.
// Maps to the `verified_screening_queue` table (unique on order id).
type VerifiedQueueEntry struct {
	ID               uuid.UUID  `json:"id"`
	OrderID          uuid.UUID  `json:"order_id"`
	ApplicationID    uuid.UUID  `json:"application_id"`
	LandlordID       uuid.UUID  `json:"landlord_id"`
	ServiceLevel     string     `json:"service_level"`
	ApplicantSummary string     `json:"applicant_summary"`
	Status           string     `json:"status"` // 'pending' | 'in_review' | 'done'
	NotifyOK         bool       `json:"notify_ok"`
	NotifyError      *string    `json:"notify_error,omitempty"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// LandlordBilling mirrors the billing plan a landlord holds with the payment
// processor. It is updated only from subscription-lifecycle webhook events.
type LandlordBilling struct {
	LandlordID       uuid.UUID  `json:"landlord_id"`
	StripeCustomerID string     `json:"stripe_customer_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
