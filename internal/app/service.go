/**
 * @description
 * This file contains the core business logic for the screening-service. The
 * `Service` struct orchestrates the payment-webhook finalization path: it
 * resolves which screening order a gateway event refers to, drives the atomic
 * finalization transaction, and kicks off downstream result processing
 * exactly once per order.
 *
 * Key features:
 * - Finalization is idempotent at two levels: the stripe_events dedupe ledger
 *   rejects redelivered event ids, and the order's `finalized` flag rejects a
 *   second, different event for the same purchase.
 * - Checkout creation runs the eligibility gate and consent validation before
 *   any money can move.
 * - The manual-confirm fallback reuses the exact same finalization path as
 *   the webhook, with a synthetic event id derived from the session.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripeclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
	"github.com/rentora/screening-service/pkg/rabbitmq"
	"github.com/rentora/screening-service/pkg/stripeclient"
)

// Error codes surfaced to callers. Webhook-path failures are absorbed (logged,
// HTTP 200) while request-path failures carry one of these codes.
const (
	ErrCodeOrderNotFound         = "order_not_found"
	ErrCodeApplicationNotFound   = "application_not_found"
	ErrCodeStripeNotConfigured   = "stripe_not_configured"
	ErrCodeInvalidRedirectOrigin = "invalid_redirect_origin"
	ErrCodeSessionNotPaid        = "session_not_paid"
	ErrCodeRateLimited           = "rate_limited"
	ErrCodeUnknown               = "unknown"
)

const actorSystem = "screening-service"

// StripeAPI is the subset of the payment-processor client the service uses.
type StripeAPI interface {
	Configured() bool
	CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutSessionParams) (*stripeclient.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripeclient.CheckoutSession, error)
	ListSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]stripeclient.CheckoutSession, error)
}

// Service provides the core business logic for screening orders.
type Service struct {
	repo     store.Repository
	stripe   StripeAPI
	producer rabbitmq.Publisher
	provider ResultProvider
	health   *ProviderHealth

	rateLimiter         *RedisRateLimiter
	checkoutLimitPerMin int
	confirmLimitPerMin  int

	frontendOrigin string
	extraOrigins   []string
	environment    string
	consentVersion string
	reportSignKey  []byte
	reportURLTTL   time.Duration
}

// NewService creates a new screening service instance.
func NewService(
	repo store.Repository,
	stripe StripeAPI,
	producer rabbitmq.Publisher,
	provider ResultProvider,
	health *ProviderHealth,
	frontendOrigin string,
	extraOrigins []string,
	environment string,
	consentVersion string,
	reportSignKey string,
	reportURLTTL time.Duration,
) *Service {
	if provider == nil {
		provider = &StubResultProvider{}
	}
	if health == nil {
		health = NewProviderHealth()
	}
	return &Service{
		repo:           repo,
		stripe:         stripe,
		producer:       producer,
		provider:       provider,
		health:         health,
		frontendOrigin: strings.TrimRight(strings.TrimSpace(frontendOrigin), "/"),
		extraOrigins:   extraOrigins,
		environment:    environment,
		consentVersion: consentVersion,
		reportSignKey:  []byte(reportSignKey),
		reportURLTTL:   reportURLTTL,
	}
}

// SetRateLimiter attaches the optional Redis-backed limiter for checkout
// creation and manual confirmation.
func (s *Service) SetRateLimiter(limiter *RedisRateLimiter, checkoutPerMin, confirmPerMin int) {
	s.rateLimiter = limiter
	s.checkoutLimitPerMin = checkoutPerMin
	s.confirmLimitPerMin = confirmPerMin
}

// Health exposes the provider health tracker for the health endpoint.
func (s *Service) Health() *ProviderHealth {
	return s.health
}

// PaymentSignal is one payment-succeeded notification, normalized across the
// three observed event shapes. Correlation fields are best-effort; any one
// event may carry only a subset.
type PaymentSignal struct {
	EventID          string
	EventType        string
	OrderID          string
	ApplicationID    string
	LandlordID       string
	SessionID        string
	PaymentIntentID  string
	AmountTotalCents int64
	Currency         string
}

// FinalizeResult reports the outcome of one finalization attempt.
type FinalizeResult struct {
	OK               bool
	AlreadyProcessed bool
	AlreadyFinalized bool
	OrderID          uuid.UUID
	ApplicationID    uuid.UUID
	ErrorCode        string
}

// FinalizePayment turns one payment-succeeded signal into an exactly-once
// paid transition. The order lookup that spans correlation IDs happens before
// the transaction; the dedupe check and the finalization writes happen inside
// it. On first-time finalization the result processor is kicked off, via
// RabbitMQ when available and inline otherwise.
func (s *Service) FinalizePayment(ctx context.Context, signal PaymentSignal) FinalizeResult {
	if strings.TrimSpace(signal.EventID) == "" {
		log.Printf("level=warn component=finalizer msg=\"rejecting signal without event id\" event_type=%s", signal.EventType)
		return FinalizeResult{ErrorCode: ErrCodeUnknown}
	}

	// Cheap pre-check. The authoritative check re-runs inside the
	// finalization transaction; this one just skips resolution work for
	// redeliveries, including events previously recorded as unresolved.
	if seen, err := s.repo.GatewayEventExists(ctx, signal.EventID); err == nil && seen {
		return FinalizeResult{OK: true, AlreadyProcessed: true, AlreadyFinalized: true}
	}

	s.enrichSignalFromProcessor(ctx, &signal)

	var orderID *uuid.UUID
	if signal.OrderID != "" {
		if parsed, err := uuid.Parse(signal.OrderID); err == nil {
			orderID = &parsed
		} else {
			log.Printf("level=warn component=finalizer event_id=%s msg=\"metadata order id is not a uuid\" order_id=%q", signal.EventID, signal.OrderID)
		}
	}

	order, err := s.repo.ResolveOrder(ctx, orderID, signal.SessionID, signal.PaymentIntentID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return s.recordUnresolvedPayment(ctx, signal)
		}
		log.Printf("level=error component=finalizer event_id=%s msg=\"order resolution failed\" err=%v", signal.EventID, err)
		return FinalizeResult{ErrorCode: ErrCodeUnknown}
	}

	outcome, err := s.repo.FinalizeOrder(ctx, store.FinalizeOrderParams{
		EventID:          signal.EventID,
		EventType:        signal.EventType,
		OrderID:          order.ID,
		SessionID:        signal.SessionID,
		PaymentIntentID:  signal.PaymentIntentID,
		AmountTotalCents: signal.AmountTotalCents,
		Currency:         signal.Currency,
	})
	if err != nil {
		log.Printf("level=error component=finalizer event_id=%s order_id=%s msg=\"finalization transaction failed\" err=%v", signal.EventID, order.ID, err)
		return FinalizeResult{ErrorCode: ErrCodeUnknown}
	}

	result := FinalizeResult{
		OK:               true,
		AlreadyProcessed: outcome.AlreadyProcessed,
		AlreadyFinalized: outcome.AlreadyFinalized,
		OrderID:          outcome.OrderID,
		ApplicationID:    outcome.ApplicationID,
	}

	if outcome.AlreadyProcessed {
		log.Printf("level=info component=finalizer event_id=%s order_id=%s msg=\"duplicate event delivery ignored\"", signal.EventID, order.ID)
		return result
	}

	if outcome.AlreadyFinalized {
		// Cross-event duplicate: a different event already paid this order.
		s.audit(ctx, order.ApplicationID, domain.AuditWebhookIgnored, map[string]any{
			"event_id":   signal.EventID,
			"event_type": signal.EventType,
			"order_id":   order.ID.String(),
			"reason":     "order_already_finalized",
		})
		return result
	}

	s.audit(ctx, order.ApplicationID, domain.AuditPaid, map[string]any{
		"event_id":   signal.EventID,
		"event_type": signal.EventType,
		"order_id":   order.ID.String(),
		"paid_at":    outcome.PaidAt.UTC().Format(time.RFC3339),
	})
	log.Printf("level=info component=finalizer event_id=%s order_id=%s application_id=%s msg=\"order finalized\"", signal.EventID, order.ID, order.ApplicationID)

	s.dispatchResultProcessing(ctx, outcome.OrderID, outcome.ApplicationID, signal.EventID, outcome.PaidAt)
	return result
}

// enrichSignalFromProcessor performs the best-effort secondary lookup
// (payment-intent -> session list) when a payment_intent event carries no
// usable metadata.
func (s *Service) enrichSignalFromProcessor(ctx context.Context, signal *PaymentSignal) {
	if signal.OrderID != "" || signal.SessionID != "" || signal.PaymentIntentID == "" {
		return
	}
	if s.stripe == nil || !s.stripe.Configured() {
		return
	}
	sessions, err := s.stripe.ListSessionsByPaymentIntent(ctx, signal.PaymentIntentID)
	if err != nil {
		log.Printf("level=warn component=finalizer event_id=%s msg=\"secondary session lookup failed\" payment_intent=%s err=%v", signal.EventID, signal.PaymentIntentID, err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	session := sessions[0]
	signal.SessionID = session.ID
	if signal.OrderID == "" {
		signal.OrderID = session.Metadata["orderId"]
	}
	if signal.ApplicationID == "" {
		signal.ApplicationID = session.Metadata["applicationId"]
	}
	if signal.AmountTotalCents == 0 {
		signal.AmountTotalCents = session.AmountTotal
	}
	if signal.Currency == "" {
		signal.Currency = session.Currency
	}
}

// recordUnresolvedPayment writes the unresolved dedupe row so the payment is
// diagnosable, and raises an operator alert: money may have been received
// with no matching order.
func (s *Service) recordUnresolvedPayment(ctx context.Context, signal PaymentSignal) FinalizeResult {
	event := &domain.GatewayEvent{
		EventID:   signal.EventID,
		EventType: signal.EventType,
	}
	if signal.SessionID != "" {
		event.SessionID = &signal.SessionID
	}
	if signal.PaymentIntentID != "" {
		event.PaymentIntentID = &signal.PaymentIntentID
	}
	if err := s.repo.RecordUnresolvedGatewayEvent(ctx, event); err != nil {
		log.Printf("level=error component=finalizer event_id=%s msg=\"failed to record unresolved event\" err=%v", signal.EventID, err)
		return FinalizeResult{ErrorCode: ErrCodeUnknown}
	}
	log.Printf("level=warn component=finalizer event_id=%s event_type=%s session_id=%s payment_intent=%s msg=\"payment event with no resolvable order\"", signal.EventID, signal.EventType, signal.SessionID, signal.PaymentIntentID)

	// The ledger entry needs an application to hang off; without one the
	// stripe_events row and the ops alert are the only trace.
	if applicationID, err := uuid.Parse(signal.ApplicationID); err == nil {
		s.audit(ctx, applicationID, domain.AuditWebhookUnresolved, map[string]any{
			"event_id":       signal.EventID,
			"event_type":     signal.EventType,
			"session_id":     signal.SessionID,
			"payment_intent": signal.PaymentIntentID,
		})
	}

	if s.producer != nil {
		alert := domain.OpsNotifyEvent{
			Kind:    "unresolved_payment",
			Subject: "Payment received with no resolvable screening order",
			Detail: fmt.Sprintf("event %s (%s): session=%q payment_intent=%q",
				signal.EventID, signal.EventType, signal.SessionID, signal.PaymentIntentID),
			At: time.Now().UTC(),
		}
		if err := s.producer.Publish(ctx, rabbitmq.ScreeningExchange, rabbitmq.RoutingKeyOpsUnresolved, alert); err != nil {
			log.Printf("level=warn component=finalizer event_id=%s msg=\"unresolved-payment alert publish failed\" err=%v", signal.EventID, err)
		}
	}
	return FinalizeResult{ErrorCode: ErrCodeOrderNotFound}
}

// dispatchResultProcessing hands a first-time-finalized order to the result
// processor. The broker path keeps webhook latency flat; when publishing
// fails the processor runs inline so the paid order is never left without a
// result.
func (s *Service) dispatchResultProcessing(ctx context.Context, orderID, applicationID uuid.UUID, eventID string, paidAt time.Time) {
	if s.producer != nil {
		event := domain.OrderFinalizedEvent{
			OrderID:       orderID,
			ApplicationID: applicationID,
			EventID:       eventID,
			FinalizedAt:   paidAt,
		}
		err := s.producer.Publish(ctx, rabbitmq.ScreeningExchange, rabbitmq.RoutingKeyOrderFinalized, event)
		if err == nil {
			return
		}
		log.Printf("level=warn component=finalizer order_id=%s msg=\"finalized event publish failed; processing inline\" err=%v", orderID, err)
	}
	if _, err := s.ApplyScreeningResult(ctx, orderID, applicationID); err != nil {
		log.Printf("level=error component=finalizer order_id=%s msg=\"inline result processing failed\" err=%v", orderID, err)
	}
}

// ConfirmCheckoutSession is the manual fallback for when the webhook has not
// yet arrived: it retrieves the session state directly from the processor and
// feeds the same finalization path with a synthetic event id derived from the
// session, so repeated confirms dedupe exactly like webhook redeliveries.
func (s *Service) ConfirmCheckoutSession(ctx context.Context, sessionID string) FinalizeResult {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return FinalizeResult{ErrorCode: ErrCodeSessionNotPaid}
	}
	if allowed := s.consumeRateLimit(ctx, "confirm", sessionID, s.confirmLimitPerMin); !allowed {
		return FinalizeResult{ErrorCode: ErrCodeRateLimited}
	}
	if s.stripe == nil || !s.stripe.Configured() {
		return FinalizeResult{ErrorCode: ErrCodeStripeNotConfigured}
	}

	session, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stripeclient.ErrNotConfigured) {
			return FinalizeResult{ErrorCode: ErrCodeStripeNotConfigured}
		}
		log.Printf("level=warn component=confirm session_id=%s msg=\"session retrieval failed\" err=%v", sessionID, err)
		return FinalizeResult{ErrorCode: ErrCodeUnknown}
	}
	if session.PaymentStatus != "paid" {
		return FinalizeResult{ErrorCode: ErrCodeSessionNotPaid}
	}

	return s.FinalizePayment(ctx, PaymentSignal{
		EventID:          "confirm_" + session.ID,
		EventType:        "manual.session.confirmed",
		OrderID:          session.Metadata["orderId"],
		ApplicationID:    session.Metadata["applicationId"],
		LandlordID:       session.Metadata["landlordId"],
		SessionID:        session.ID,
		PaymentIntentID:  session.PaymentIntent,
		AmountTotalCents: session.AmountTotal,
		Currency:         session.Currency,
	})
}

// GetOrder retrieves one screening order.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error) {
	return s.repo.FindOrderByID(ctx, orderID)
}

// ListScreeningEvents returns the audit trail for an application the caller
// owns, newest first.
func (s *Service) ListScreeningEvents(ctx context.Context, applicationID, landlordID uuid.UUID, limit int) ([]domain.ScreeningEvent, error) {
	application, err := s.repo.FindApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if application.LandlordID != landlordID {
		return nil, store.ErrApplicationNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListScreeningEvents(ctx, applicationID, limit)
}

// HandleSubscriptionEvent keeps the landlord billing-plan mirror current from
// subscription-lifecycle webhook events.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, eventType string, sub domain.StripeSubscriptionObject) error {
	landlordID, err := uuid.Parse(sub.Metadata.LandlordID)
	if err != nil {
		log.Printf("level=warn component=billing msg=\"subscription event without landlord metadata; ignoring\" subscription=%s", sub.ID)
		return nil
	}

	plan := sub.Metadata.Plan
	if plan == "" && len(sub.Items.Data) > 0 {
		plan = sub.Items.Data[0].Price.Nickname
	}
	status := sub.Status
	if eventType == domain.EventSubscriptionDeleted {
		status = "canceled"
	}

	billing := &domain.LandlordBilling{
		LandlordID:       landlordID,
		StripeCustomerID: sub.Customer,
		Plan:             plan,
		Status:           status,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		billing.CurrentPeriodEnd = &end
	}
	return s.repo.UpsertLandlordBilling(ctx, billing)
}

func (s *Service) consumeRateLimit(ctx context.Context, scope, subject string, limitPerMin int) bool {
	if s.rateLimiter == nil || limitPerMin <= 0 {
		return true
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limitPerMin, time.Minute)
	if err != nil {
		// Fail open: a limiter outage must not block payments.
		log.Printf("level=warn component=rate_limit scope=%s msg=\"limiter unavailable; allowing request\" err=%v", scope, err)
		return true
	}
	return count <= limitPerMin
}

// audit appends one row to the screening_events ledger. Audit failures are
// logged, never propagated: the ledger observes transitions, it does not gate
// them.
func (s *Service) audit(ctx context.Context, applicationID uuid.UUID, eventType string, meta map[string]any) {
	if applicationID == uuid.Nil {
		return
	}
	event := domain.ScreeningEvent{
		ApplicationID: applicationID,
		Type:          eventType,
		Actor:         actorSystem,
		Meta:          meta,
	}
	if err := s.repo.AppendScreeningEvent(ctx, event); err != nil {
		log.Printf("level=warn component=audit application_id=%s type=%s msg=\"audit write failed\" err=%v", applicationID, eventType, err)
	}
}

// queryParams renders a deterministic query string. The processor's
// session-id placeholder must survive verbatim, so it is restored after
// escaping.
func queryParams(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for key, value := range pairs {
		if value != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		escaped := url.QueryEscape(pairs[key])
		escaped = strings.ReplaceAll(escaped, "%7BCHECKOUT_SESSION_ID%7D", "{CHECKOUT_SESSION_ID}")
		parts = append(parts, key+"="+escaped)
	}
	return strings.Join(parts, "&")
}
