/**
 * @description
 * This file implements checkout-session creation for screening orders: the
 * eligibility gate and consent validation run first, the redirect targets go
 * through the origin allowlist, and only then is a processor checkout session
 * created and a ScreeningOrder persisted in status CREATED/unpaid.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
	"github.com/rentora/screening-service/pkg/stripeclient"
)

// Screening tier price points, in cents. The full plan catalogue lives
// outside this service; these are the screening SKUs it sells.
var tierPriceCents = map[string]int64{
	"basic":    2999,
	"standard": 4999,
	"premium":  7999,
}

var addonPriceCents = map[string]int64{
	"eviction_history":  1500,
	"income_insights":   1200,
	"criminal_national": 1800,
}

var serviceLevelSurchargeCents = map[string]int64{
	domain.ServiceLevelSelfServe:  0,
	domain.ServiceLevelVerified:   2500,
	domain.ServiceLevelVerifiedAI: 4000,
}

// CheckoutRequest is the input for creating a screening checkout session.
type CheckoutRequest struct {
	ScreeningTier string                `json:"screening_tier"`
	Addons        []string              `json:"addons,omitempty"`
	ServiceLevel  string                `json:"service_level"`
	Consent       domain.ConsentPayload `json:"consent"`
	SuccessURL    string                `json:"success_url,omitempty"`
	CancelURL     string                `json:"cancel_url,omitempty"`
}

// CheckoutResult is the outcome of a checkout-creation attempt.
type CheckoutResult struct {
	OK          bool
	CheckoutURL string
	OrderID     uuid.UUID
	ErrorCode   string
	ReasonCode  string
}

// CreateCheckout validates eligibility and consent for an application and
// builds the outbound checkout session. The order row is created before the
// caller is redirected, so every later webhook has something to resolve.
func (s *Service) CreateCheckout(ctx context.Context, applicationID, landlordID uuid.UUID, req CheckoutRequest) CheckoutResult {
	if allowed := s.consumeRateLimit(ctx, "checkout", landlordID.String(), s.checkoutLimitPerMin); !allowed {
		return CheckoutResult{ErrorCode: ErrCodeRateLimited}
	}
	if s.stripe == nil || !s.stripe.Configured() {
		return CheckoutResult{ErrorCode: ErrCodeStripeNotConfigured}
	}

	application, err := s.repo.FindApplicationByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, store.ErrApplicationNotFound) {
			return CheckoutResult{ErrorCode: ErrCodeApplicationNotFound}
		}
		log.Printf("level=error component=checkout application_id=%s msg=\"application load failed\" err=%v", applicationID, err)
		return CheckoutResult{ErrorCode: ErrCodeUnknown}
	}
	if application.LandlordID != landlordID {
		// Do not leak whether the application exists for someone else.
		return CheckoutResult{ErrorCode: ErrCodeApplicationNotFound}
	}

	eligibility := s.EvaluateEligibility(ctx, application)
	if !eligibility.Eligible {
		s.audit(ctx, applicationID, domain.AuditCheckoutBlocked, map[string]any{
			"reason_code": eligibility.ReasonCode,
			"detail":      eligibility.Detail,
		})
		return CheckoutResult{ErrorCode: "not_eligible", ReasonCode: eligibility.ReasonCode}
	}

	if reason := s.validateConsent(req.Consent); reason != "" {
		s.audit(ctx, applicationID, domain.AuditCheckoutBlocked, map[string]any{
			"reason_code": reason,
		})
		return CheckoutResult{ErrorCode: "not_eligible", ReasonCode: reason}
	}

	amountCents, totalCents, err := quotePrice(req.ScreeningTier, req.ServiceLevel, req.Addons)
	if err != nil {
		return CheckoutResult{ErrorCode: "invalid_tier", ReasonCode: err.Error()}
	}

	orderID := uuid.New()
	successURL, ok := s.BuildRedirectURL(req.SuccessURL, "/screening/success", queryParams(map[string]string{
		"orderId":   orderID.String(),
		"sessionId": "{CHECKOUT_SESSION_ID}",
	}))
	if !ok {
		return CheckoutResult{ErrorCode: ErrCodeInvalidRedirectOrigin}
	}
	cancelURL, ok := s.BuildRedirectURL(req.CancelURL, "/screening/cancelled", queryParams(map[string]string{
		"orderId": orderID.String(),
	}))
	if !ok {
		return CheckoutResult{ErrorCode: ErrCodeInvalidRedirectOrigin}
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, stripeclient.CheckoutSessionParams{
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		AmountCents:   totalCents,
		Currency:      "usd",
		ProductName:   fmt.Sprintf("Tenant screening (%s, %s)", req.ScreeningTier, strings.ToLower(req.ServiceLevel)),
		CustomerEmail: application.ApplicantEmail,
		Metadata: map[string]string{
			"orderId":       orderID.String(),
			"applicationId": applicationID.String(),
			"landlordId":    landlordID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, stripeclient.ErrNotConfigured) {
			return CheckoutResult{ErrorCode: ErrCodeStripeNotConfigured}
		}
		log.Printf("level=error component=checkout application_id=%s msg=\"checkout session creation failed\" err=%v", applicationID, err)
		return CheckoutResult{ErrorCode: ErrCodeUnknown}
	}

	reference := referenceForOrder(orderID)
	order := &domain.ScreeningOrder{
		ID:               orderID,
		ReferenceID:      &reference,
		ApplicationID:    applicationID,
		LandlordID:       landlordID,
		PropertyID:       application.PropertyID,
		UnitID:           application.UnitID,
		AmountCents:      amountCents,
		TotalAmountCents: totalCents,
		Currency:         "usd",
		ScreeningTier:    req.ScreeningTier,
		Addons:           req.Addons,
		ServiceLevel:     req.ServiceLevel,
		StripeSessionID:  &session.ID,
		PaymentStatus:    domain.PaymentStatusUnpaid,
	}
	if session.PaymentIntent != "" {
		order.StripePaymentIntentID = &session.PaymentIntent
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		log.Printf("level=error component=checkout application_id=%s msg=\"order persistence failed\" session_id=%s err=%v", applicationID, session.ID, err)
		return CheckoutResult{ErrorCode: ErrCodeUnknown}
	}

	if err := s.repo.MarkApplicationScreeningPending(ctx, applicationID, orderID, req.Consent); err != nil {
		log.Printf("level=warn component=checkout application_id=%s msg=\"screening mirror update failed\" err=%v", applicationID, err)
	}

	s.audit(ctx, applicationID, domain.AuditCheckoutCreated, map[string]any{
		"order_id":       orderID.String(),
		"session_id":     session.ID,
		"screening_tier": req.ScreeningTier,
		"service_level":  req.ServiceLevel,
		"total_cents":    totalCents,
	})
	log.Printf("level=info component=checkout application_id=%s order_id=%s session_id=%s msg=\"checkout session created\"", applicationID, orderID, session.ID)

	return CheckoutResult{OK: true, CheckoutURL: session.URL, OrderID: orderID}
}

// validateConsent enforces the consent snapshot contract: consent must be
// affirmatively given and its version must match the current consent text
// exactly.
func (s *Service) validateConsent(consent domain.ConsentPayload) string {
	if !consent.Given {
		return "consent_not_given"
	}
	if consent.Timestamp.IsZero() {
		return "consent_timestamp_missing"
	}
	if s.consentVersion != "" && consent.Version != s.consentVersion {
		return "consent_version_mismatch"
	}
	return ""
}

func quotePrice(tier, serviceLevel string, addons []string) (amountCents, totalCents int64, err error) {
	base, ok := tierPriceCents[tier]
	if !ok {
		return 0, 0, errors.New("unknown_screening_tier")
	}
	surcharge, ok := serviceLevelSurchargeCents[serviceLevel]
	if !ok {
		return 0, 0, errors.New("unknown_service_level")
	}
	total := base + surcharge
	for _, addon := range addons {
		price, ok := addonPriceCents[addon]
		if !ok {
			return 0, 0, errors.New("unknown_addon")
		}
		total += price
	}
	return base, total, nil
}

func referenceForOrder(orderID uuid.UUID) string {
	// Short human-facing reference: first UUID block, upper-cased.
	return "SCR-" + strings.ToUpper(strings.SplitN(orderID.String(), "-", 2)[0])
}
