/**
 * @description
 * This file contains the HTTP handlers for the screening-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/app"
	"github.com/rentora/screening-service/internal/store"
)

// ScreeningHandlers holds the application service that handlers will use.
type ScreeningHandlers struct {
	service *app.Service
}

// NewScreeningHandlers creates a new instance of ScreeningHandlers.
func NewScreeningHandlers(service *app.Service) *ScreeningHandlers {
	return &ScreeningHandlers{service: service}
}

// authenticatedLandlordID resolves the authenticated subject to a landlord
// UUID, writing the error response itself on failure.
func (h *ScreeningHandlers) authenticatedLandlordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	landlordID, err := uuid.Parse(subject)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_subject subject=%s", subject)
		h.writeError(w, http.StatusUnauthorized, "Invalid authentication subject")
		return uuid.Nil, false
	}
	return landlordID, true
}

// CreateCheckoutHandler handles POST /rental-applications/{applicationID}/screening/checkout.
func (h *ScreeningHandlers) CreateCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	landlordID, ok := h.authenticatedLandlordID(w, r)
	if !ok {
		return
	}

	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid application ID format")
		return
	}

	var req app.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_checkout outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.service.CreateCheckout(r.Context(), applicationID, landlordID, req)
	if !result.OK {
		h.writeCheckoutError(w, applicationID, result)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"order_id":     result.OrderID.String(),
		"checkout_url": result.CheckoutURL,
	})
}

func (h *ScreeningHandlers) writeCheckoutError(w http.ResponseWriter, applicationID uuid.UUID, result app.CheckoutResult) {
	switch result.ErrorCode {
	case app.ErrCodeRateLimited:
		h.writeError(w, http.StatusTooManyRequests, "Too many checkout attempts. Please wait and try again.")
	case app.ErrCodeApplicationNotFound:
		h.writeError(w, http.StatusNotFound, "Application not found")
	case app.ErrCodeStripeNotConfigured:
		h.writeError(w, http.StatusServiceUnavailable, "Payments are not configured")
	case app.ErrCodeInvalidRedirectOrigin:
		h.writeError(w, http.StatusBadRequest, "Redirect URL origin is not allowed")
	case "not_eligible":
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "Application is not eligible for screening",
			"reason_code": result.ReasonCode,
		})
	case "invalid_tier":
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":       "Invalid screening selection",
			"reason_code": result.ReasonCode,
		})
	default:
		log.Printf("level=error component=api endpoint=create_checkout outcome=failed application_id=%s code=%s", applicationID, result.ErrorCode)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ConfirmSessionHandler handles POST /screening/stripe/confirm, the manual
// fallback used by the success page when the webhook has not landed yet.
func (h *ScreeningHandlers) ConfirmSessionHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedLandlordID(w, r); !ok {
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.service.ConfirmCheckoutSession(r.Context(), req.SessionID)
	switch {
	case result.OK || result.AlreadyProcessed || result.AlreadyFinalized:
		// The dedupe pre-check short-circuits without resolving the order,
		// so a redelivered confirm carries no order id.
		response := map[string]any{
			"paid":              true,
			"already_processed": result.AlreadyProcessed || result.AlreadyFinalized,
		}
		if result.OrderID != uuid.Nil {
			response["order_id"] = result.OrderID.String()
		}
		h.writeJSON(w, http.StatusOK, response)
	case result.ErrorCode == app.ErrCodeRateLimited:
		h.writeError(w, http.StatusTooManyRequests, "Too many confirmation attempts. Please wait and try again.")
	case result.ErrorCode == app.ErrCodeSessionNotPaid:
		h.writeJSON(w, http.StatusOK, map[string]any{"paid": false})
	case result.ErrorCode == app.ErrCodeOrderNotFound:
		h.writeError(w, http.StatusNotFound, "No screening order matches this session")
	case result.ErrorCode == app.ErrCodeStripeNotConfigured:
		h.writeError(w, http.StatusServiceUnavailable, "Payments are not configured")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// GetOrderHandler handles GET /screening/orders/{orderID}.
func (h *ScreeningHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	landlordID, ok := h.authenticatedLandlordID(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_order outcome=failed order_id=%s err=%v", orderID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if order.LandlordID != landlordID {
		h.writeError(w, http.StatusNotFound, "Order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// GetReportURLHandler handles GET /screening/orders/{orderID}/report. It
// returns a signed, time-limited URL rather than the report body itself.
func (h *ScreeningHandlers) GetReportURLHandler(w http.ResponseWriter, r *http.Request) {
	landlordID, ok := h.authenticatedLandlordID(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	url, err := h.service.BuildReportURL(r.Context(), orderID, landlordID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrReportNotReady):
			h.writeError(w, http.StatusConflict, "Screening report is not ready yet")
		case errors.Is(err, app.ErrReportSigningUnset):
			h.writeError(w, http.StatusServiceUnavailable, "Report links are not configured")
		default:
			log.Printf("level=error component=api endpoint=get_report_url outcome=failed order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"report_url": url})
}

// GetReportDownloadHandler handles GET /screening/reports/{orderID}. The
// route is authorized by the exp/sig pair minted in BuildReportURL rather
// than a bearer token, so a shared report link works without a session.
func (h *ScreeningHandlers) GetReportDownloadHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	query := r.URL.Query()
	if err := h.service.VerifyReportToken(orderID, query.Get("exp"), query.Get("sig")); err != nil {
		switch {
		case errors.Is(err, app.ErrReportLinkExpired):
			h.writeError(w, http.StatusGone, "Report link has expired")
		case errors.Is(err, app.ErrReportSigningUnset):
			h.writeError(w, http.StatusServiceUnavailable, "Report links are not configured")
		default:
			h.writeError(w, http.StatusForbidden, "Invalid report link")
		}
		return
	}

	report, err := h.service.GetReport(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrReportNotReady):
			h.writeError(w, http.StatusConflict, "Screening report is not ready yet")
		default:
			log.Printf("level=error component=api endpoint=get_report outcome=failed order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// GetScreeningEventsHandler handles GET /rental-applications/{applicationID}/screening/events,
// the audit trail for one application's screening lifecycle.
func (h *ScreeningHandlers) GetScreeningEventsHandler(w http.ResponseWriter, r *http.Request) {
	landlordID, ok := h.authenticatedLandlordID(w, r)
	if !ok {
		return
	}

	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid application ID format")
		return
	}

	events, err := h.service.ListScreeningEvents(r.Context(), applicationID, landlordID, 100)
	if err != nil {
		if errors.Is(err, store.ErrApplicationNotFound) {
			h.writeError(w, http.StatusNotFound, "Application not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_screening_events outcome=failed application_id=%s err=%v", applicationID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// HealthHandler reports process liveness plus the result-provider state.
func (h *ScreeningHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": h.service.Health().Snapshot(),
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *ScreeningHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ScreeningHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
