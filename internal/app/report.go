/**
 * @description
 * This file implements signed screening-report URLs. Report access is handed
 * to the frontend as a time-limited URL carrying an HMAC over the order id
 * and expiry, so the report endpoint can authorize the download without a
 * session.
 */

package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
)

var (
	ErrReportNotReady     = errors.New("screening report is not ready")
	ErrReportLinkExpired  = errors.New("report link has expired")
	ErrReportLinkInvalid  = errors.New("report link signature is invalid")
	ErrReportSigningUnset = errors.New("report url signing key is not configured")
)

// BuildReportURL returns a signed, expiring URL for an order's screening
// report. The caller must already be authorized for the order; the signature
// only protects the link itself.
func (s *Service) BuildReportURL(ctx context.Context, orderID, landlordID uuid.UUID) (string, error) {
	if len(s.reportSignKey) == 0 {
		return "", ErrReportSigningUnset
	}

	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.LandlordID != landlordID {
		return "", store.ErrOrderNotFound
	}
	if !order.Finalized {
		return "", ErrReportNotReady
	}
	application, err := s.repo.FindApplicationByID(ctx, order.ApplicationID)
	if err != nil {
		return "", err
	}
	if application.Screening.Status != domain.ScreeningStatusComplete {
		return "", ErrReportNotReady
	}

	expiry := time.Now().Add(s.reportURLTTL).Unix()
	signature := s.signReportToken(orderID, expiry)
	return fmt.Sprintf("%s/screening/reports/%s?exp=%d&sig=%s", s.frontendOrigin, orderID, expiry, signature), nil
}

// VerifyReportToken checks a presented expiry and signature for an order.
func (s *Service) VerifyReportToken(orderID uuid.UUID, exp string, sig string) error {
	if len(s.reportSignKey) == 0 {
		return ErrReportSigningUnset
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrReportLinkInvalid
	}
	expected := s.signReportToken(orderID, expiry)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrReportLinkInvalid
	}
	if time.Now().Unix() > expiry {
		return ErrReportLinkExpired
	}
	return nil
}

// ReportPayload is the report body served to the holder of a valid signed
// report link.
type ReportPayload struct {
	OrderID       uuid.UUID               `json:"order_id"`
	ApplicationID uuid.UUID               `json:"application_id"`
	Result        *domain.ScreeningResult `json:"result"`
	AI            *domain.AIAssessment    `json:"ai,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// GetReport returns the stored screening result for an order whose report
// link has already passed VerifyReportToken.
func (s *Service) GetReport(ctx context.Context, orderID uuid.UUID) (*ReportPayload, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	application, err := s.repo.FindApplicationByID(ctx, order.ApplicationID)
	if err != nil {
		return nil, err
	}
	if !order.Finalized || application.Screening.Status != domain.ScreeningStatusComplete || application.Screening.Result == nil {
		return nil, ErrReportNotReady
	}
	return &ReportPayload{
		OrderID:       order.ID,
		ApplicationID: order.ApplicationID,
		Result:        application.Screening.Result,
		AI:            application.Screening.AI,
		CompletedAt:   application.Screening.CompletedAt,
	}, nil
}

func (s *Service) signReportToken(orderID uuid.UUID, expiry int64) string {
	mac := hmac.New(sha256.New, s.reportSignKey)
	fmt.Fprintf(mac, "report:%s:%d", orderID, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}
