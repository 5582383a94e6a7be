package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/app"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
	"github.com/rentora/screening-service/pkg/stripeclient"
)

type handlerRepoStub struct {
	store.Repository

	order       *domain.ScreeningOrder
	application *domain.RentalApplication
	events      []domain.ScreeningEvent
	eventSeen   bool
}

func (s *handlerRepoStub) GatewayEventExists(ctx context.Context, eventID string) (bool, error) {
	return s.eventSeen, nil
}

func (s *handlerRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, store.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *handlerRepoStub) FindApplicationByID(ctx context.Context, applicationID uuid.UUID) (*domain.RentalApplication, error) {
	if s.application == nil || s.application.ID != applicationID {
		return nil, store.ErrApplicationNotFound
	}
	return s.application, nil
}

func (s *handlerRepoStub) ListScreeningEvents(ctx context.Context, applicationID uuid.UUID, limit int) ([]domain.ScreeningEvent, error) {
	return s.events, nil
}

// paidSessionStripe answers every session lookup with a paid session, the
// state the manual-confirm endpoint acts on.
type paidSessionStripe struct{}

func (paidSessionStripe) Configured() bool { return true }

func (paidSessionStripe) CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutSessionParams) (*stripeclient.CheckoutSession, error) {
	return nil, errors.New("not supported")
}

func (paidSessionStripe) GetCheckoutSession(ctx context.Context, sessionID string) (*stripeclient.CheckoutSession, error) {
	return &stripeclient.CheckoutSession{ID: sessionID, PaymentStatus: "paid"}, nil
}

func (paidSessionStripe) ListSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]stripeclient.CheckoutSession, error) {
	return nil, nil
}

func newHandlerTestService(repo store.Repository) *app.Service {
	return app.NewService(repo, nil, noopPublisher{}, nil, nil, "https://app.example.com", nil, "test", "2025-01", "report-secret", 15*time.Minute)
}

// authedRequest builds a request carrying an authenticated subject and the
// chi URL parameters the handler expects, the way the router would.
func authedRequest(method, target string, body []byte, landlordID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), authSubjectKey, landlordID.String())

	routeCtx := chi.NewRouteContext()
	for key, value := range params {
		routeCtx.URLParams.Add(key, value)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
	return req.WithContext(ctx)
}

func TestGetOrderHandler_ReturnsOwnOrder(t *testing.T) {
	landlordID := uuid.New()
	orderID := uuid.New()
	repo := &handlerRepoStub{
		order: &domain.ScreeningOrder{ID: orderID, LandlordID: landlordID, PaymentStatus: domain.PaymentStatusPaid, Finalized: true},
	}
	handlers := NewScreeningHandlers(newHandlerTestService(repo))

	req := authedRequest(http.MethodGet, "/screening/orders/"+orderID.String(), nil, landlordID,
		map[string]string{"orderID": orderID.String()})
	recorder := httptest.NewRecorder()
	handlers.GetOrderHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", recorder.Code, recorder.Body.String())
	}
	var order domain.ScreeningOrder
	if err := json.Unmarshal(recorder.Body.Bytes(), &order); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if order.ID != orderID {
		t.Fatalf("expected order %s, got %s", orderID, order.ID)
	}
}

func TestGetOrderHandler_HidesForeignOrder(t *testing.T) {
	orderID := uuid.New()
	repo := &handlerRepoStub{
		order: &domain.ScreeningOrder{ID: orderID, LandlordID: uuid.New()},
	}
	handlers := NewScreeningHandlers(newHandlerTestService(repo))

	req := authedRequest(http.MethodGet, "/screening/orders/"+orderID.String(), nil, uuid.New(),
		map[string]string{"orderID": orderID.String()})
	recorder := httptest.NewRecorder()
	handlers.GetOrderHandler(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another landlord's order, got %d", recorder.Code)
	}
}

func TestGetOrderHandler_RejectsMalformedID(t *testing.T) {
	handlers := NewScreeningHandlers(newHandlerTestService(&handlerRepoStub{}))

	req := authedRequest(http.MethodGet, "/screening/orders/not-a-uuid", nil, uuid.New(),
		map[string]string{"orderID": "not-a-uuid"})
	recorder := httptest.NewRecorder()
	handlers.GetOrderHandler(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed order id, got %d", recorder.Code)
	}
}

func TestCreateCheckoutHandler_UnauthenticatedSubjectRejected(t *testing.T) {
	handlers := NewScreeningHandlers(newHandlerTestService(&handlerRepoStub{}))

	req := httptest.NewRequest(http.MethodPost, "/rental-applications/x/screening/checkout", bytes.NewReader([]byte(`{}`)))
	ctx := context.WithValue(req.Context(), authSubjectKey, "not-a-uuid")
	recorder := httptest.NewRecorder()
	handlers.CreateCheckoutHandler(recorder, req.WithContext(ctx))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a non-uuid subject, got %d", recorder.Code)
	}
}

func TestCreateCheckoutHandler_StripeNotConfigured(t *testing.T) {
	landlordID := uuid.New()
	applicationID := uuid.New()
	handlers := NewScreeningHandlers(newHandlerTestService(&handlerRepoStub{}))

	body := []byte(`{"screening_tier":"standard","service_level":"SELF_SERVE"}`)
	req := authedRequest(http.MethodPost, "/rental-applications/"+applicationID.String()+"/screening/checkout",
		body, landlordID, map[string]string{"applicationID": applicationID.String()})
	recorder := httptest.NewRecorder()
	handlers.CreateCheckoutHandler(recorder, req)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when payments are not configured, got %d (body %s)", recorder.Code, recorder.Body.String())
	}
}

func TestGetScreeningEventsHandler_ChecksOwnership(t *testing.T) {
	landlordID := uuid.New()
	applicationID := uuid.New()
	repo := &handlerRepoStub{
		application: &domain.RentalApplication{ID: applicationID, LandlordID: landlordID},
		events: []domain.ScreeningEvent{
			{ID: uuid.New(), ApplicationID: applicationID, Type: domain.AuditCheckoutCreated},
		},
	}
	handlers := NewScreeningHandlers(newHandlerTestService(repo))

	req := authedRequest(http.MethodGet, "/rental-applications/"+applicationID.String()+"/screening/events",
		nil, landlordID, map[string]string{"applicationID": applicationID.String()})
	recorder := httptest.NewRecorder()
	handlers.GetScreeningEventsHandler(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for the owner, got %d", recorder.Code)
	}
	var payload struct {
		Events []domain.ScreeningEvent `json:"events"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if len(payload.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(payload.Events))
	}

	foreign := authedRequest(http.MethodGet, "/rental-applications/"+applicationID.String()+"/screening/events",
		nil, uuid.New(), map[string]string{"applicationID": applicationID.String()})
	recorder = httptest.NewRecorder()
	handlers.GetScreeningEventsHandler(recorder, foreign)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another landlord, got %d", recorder.Code)
	}
}

func TestConfirmSessionHandler_RedeliveredConfirmOmitsOrderID(t *testing.T) {
	repo := &handlerRepoStub{eventSeen: true}
	service := app.NewService(repo, paidSessionStripe{}, noopPublisher{}, nil, nil,
		"https://app.example.com", nil, "test", "2025-01", "report-secret", 15*time.Minute)
	handlers := NewScreeningHandlers(service)

	body := []byte(`{"session_id":"cs_redelivered"}`)
	req := authedRequest(http.MethodPost, "/screening/stripe/confirm", body, uuid.New(), nil)
	recorder := httptest.NewRecorder()
	handlers.ConfirmSessionHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if payload["paid"] != true || payload["already_processed"] != true {
		t.Fatalf("expected a paid, already-processed ack, got %v", payload)
	}
	if _, present := payload["order_id"]; present {
		t.Fatalf("expected no order_id when the dedupe pre-check short-circuits, got %v", payload)
	}
}

func TestGetReportURLHandler_NotReadyConflict(t *testing.T) {
	landlordID := uuid.New()
	orderID := uuid.New()
	repo := &handlerRepoStub{
		order: &domain.ScreeningOrder{ID: orderID, LandlordID: landlordID, PaymentStatus: domain.PaymentStatusUnpaid},
	}
	handlers := NewScreeningHandlers(newHandlerTestService(repo))

	req := authedRequest(http.MethodGet, "/screening/orders/"+orderID.String()+"/report",
		nil, landlordID, map[string]string{"orderID": orderID.String()})
	recorder := httptest.NewRecorder()
	handlers.GetReportURLHandler(recorder, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an unpaid order, got %d", recorder.Code)
	}
}

func completedReportRepo(orderID, applicationID, landlordID uuid.UUID) *handlerRepoStub {
	return &handlerRepoStub{
		order: &domain.ScreeningOrder{
			ID:            orderID,
			ApplicationID: applicationID,
			LandlordID:    landlordID,
			PaymentStatus: domain.PaymentStatusPaid,
			Finalized:     true,
		},
		application: &domain.RentalApplication{
			ID:         applicationID,
			LandlordID: landlordID,
			Screening: domain.ApplicationScreening{
				Status: domain.ScreeningStatusComplete,
				Result: &domain.ScreeningResult{Score: 82, Band: "good", Recommendation: "approve", Provider: "stub"},
			},
		},
	}
}

func reportDownloadRequest(orderID uuid.UUID, rawQuery string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/screening/reports/"+orderID.String()+"?"+rawQuery, nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("orderID", orderID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestGetReportDownloadHandler_ServesSignedLink(t *testing.T) {
	landlordID := uuid.New()
	orderID := uuid.New()
	applicationID := uuid.New()
	service := newHandlerTestService(completedReportRepo(orderID, applicationID, landlordID))
	handlers := NewScreeningHandlers(service)

	signed, err := service.BuildReportURL(context.Background(), orderID, landlordID)
	if err != nil {
		t.Fatalf("building report url: %v", err)
	}
	link, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("report url did not parse: %v", err)
	}

	recorder := httptest.NewRecorder()
	handlers.GetReportDownloadHandler(recorder, reportDownloadRequest(orderID, link.RawQuery))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid link, got %d (body %s)", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		OrderID uuid.UUID `json:"order_id"`
		Result  *domain.ScreeningResult
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if payload.OrderID != orderID || payload.Result == nil || payload.Result.Score != 82 {
		t.Fatalf("unexpected report payload: %s", recorder.Body.String())
	}
}

func TestGetReportDownloadHandler_RejectsTamperedSignature(t *testing.T) {
	landlordID := uuid.New()
	orderID := uuid.New()
	applicationID := uuid.New()
	service := newHandlerTestService(completedReportRepo(orderID, applicationID, landlordID))
	handlers := NewScreeningHandlers(service)

	signed, err := service.BuildReportURL(context.Background(), orderID, landlordID)
	if err != nil {
		t.Fatalf("building report url: %v", err)
	}
	link, _ := url.Parse(signed)
	query := link.Query()
	query.Set("sig", "deadbeef")

	recorder := httptest.NewRecorder()
	handlers.GetReportDownloadHandler(recorder, reportDownloadRequest(orderID, query.Encode()))

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a tampered signature, got %d", recorder.Code)
	}
}

func TestHealthHandler_ReportsProviderState(t *testing.T) {
	handlers := NewScreeningHandlers(newHandlerTestService(&handlerRepoStub{}))

	recorder := httptest.NewRecorder()
	handlers.HealthHandler(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload struct {
		Status   string `json:"status"`
		Provider struct {
			Healthy bool `json:"healthy"`
		} `json:"provider"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if payload.Status != "ok" || !payload.Provider.Healthy {
		t.Fatalf("unexpected health payload: %s", recorder.Body.String())
	}
}
