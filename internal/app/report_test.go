package app

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
)

type reportRepoStub struct {
	store.Repository

	order       *domain.ScreeningOrder
	application *domain.RentalApplication
}

func (s *reportRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error) {
	if s.order == nil {
		return nil, store.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *reportRepoStub) FindApplicationByID(ctx context.Context, applicationID uuid.UUID) (*domain.RentalApplication, error) {
	if s.application == nil {
		return nil, store.ErrApplicationNotFound
	}
	return s.application, nil
}

func reportTestService(repo store.Repository) *Service {
	return NewService(repo, nil, nil, nil, nil, "https://app.example.com", nil, "test", "2025-01", "report-secret", 15*time.Minute)
}

func completedOrderFixture(landlordID uuid.UUID) (*domain.ScreeningOrder, *domain.RentalApplication) {
	applicationID := uuid.New()
	order := &domain.ScreeningOrder{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		LandlordID:    landlordID,
		Finalized:     true,
	}
	application := &domain.RentalApplication{
		ID:        applicationID,
		Screening: domain.ApplicationScreening{Status: domain.ScreeningStatusComplete},
	}
	return order, application
}

func TestBuildReportURL_SignedLinkVerifies(t *testing.T) {
	landlordID := uuid.New()
	order, application := completedOrderFixture(landlordID)
	service := reportTestService(&reportRepoStub{order: order, application: application})

	reportURL, err := service.BuildReportURL(context.Background(), order.ID, landlordID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.HasPrefix(reportURL, "https://app.example.com/screening/reports/"+order.ID.String()) {
		t.Fatalf("unexpected report url %q", reportURL)
	}

	parsed, err := url.Parse(reportURL)
	if err != nil {
		t.Fatalf("report url did not parse: %v", err)
	}
	exp := parsed.Query().Get("exp")
	sig := parsed.Query().Get("sig")
	if err := service.VerifyReportToken(order.ID, exp, sig); err != nil {
		t.Fatalf("expected signed link to verify, got %v", err)
	}
}

func TestVerifyReportToken_RejectsTamperedSignature(t *testing.T) {
	landlordID := uuid.New()
	order, application := completedOrderFixture(landlordID)
	service := reportTestService(&reportRepoStub{order: order, application: application})

	reportURL, err := service.BuildReportURL(context.Background(), order.ID, landlordID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	parsed, _ := url.Parse(reportURL)
	exp := parsed.Query().Get("exp")

	if err := service.VerifyReportToken(order.ID, exp, "deadbeef"); !errors.Is(err, ErrReportLinkInvalid) {
		t.Fatalf("expected invalid-signature error, got %v", err)
	}
	otherOrder := uuid.New()
	if err := service.VerifyReportToken(otherOrder, exp, parsed.Query().Get("sig")); !errors.Is(err, ErrReportLinkInvalid) {
		t.Fatalf("expected signature bound to order id, got %v", err)
	}
}

func TestVerifyReportToken_RejectsExpiredLink(t *testing.T) {
	service := reportTestService(&reportRepoStub{})
	orderID := uuid.New()

	expiry := time.Now().Add(-time.Minute).Unix()
	sig := service.signReportToken(orderID, expiry)

	err := service.VerifyReportToken(orderID, strconv.FormatInt(expiry, 10), sig)
	if !errors.Is(err, ErrReportLinkExpired) {
		t.Fatalf("expected expired-link error, got %v", err)
	}
}

func TestBuildReportURL_GuardsOwnershipAndReadiness(t *testing.T) {
	landlordID := uuid.New()
	order, application := completedOrderFixture(landlordID)

	t.Run("foreign landlord sees not found", func(t *testing.T) {
		service := reportTestService(&reportRepoStub{order: order, application: application})
		if _, err := service.BuildReportURL(context.Background(), order.ID, uuid.New()); !errors.Is(err, store.ErrOrderNotFound) {
			t.Fatalf("expected order-not-found, got %v", err)
		}
	})

	t.Run("unfinalized order not ready", func(t *testing.T) {
		unpaid := *order
		unpaid.Finalized = false
		service := reportTestService(&reportRepoStub{order: &unpaid, application: application})
		if _, err := service.BuildReportURL(context.Background(), order.ID, landlordID); !errors.Is(err, ErrReportNotReady) {
			t.Fatalf("expected not-ready, got %v", err)
		}
	})

	t.Run("incomplete screening not ready", func(t *testing.T) {
		pending := *application
		pending.Screening.Status = domain.ScreeningStatusPaid
		service := reportTestService(&reportRepoStub{order: order, application: &pending})
		if _, err := service.BuildReportURL(context.Background(), order.ID, landlordID); !errors.Is(err, ErrReportNotReady) {
			t.Fatalf("expected not-ready, got %v", err)
		}
	})
}

