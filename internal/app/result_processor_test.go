package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
)

type resultProcessorRepoStub struct {
	store.Repository

	order       *domain.ScreeningOrder
	application *domain.RentalApplication

	queueEntryExists bool

	appliedResult *domain.ScreeningResult
	appliedAI     *domain.AIAssessment
	queueCalls    int
	queueEntry    *domain.VerifiedQueueEntry
	notifyOK      *bool
	auditedTypes  []string
}

func (s *resultProcessorRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error) {
	if s.order == nil {
		return nil, store.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *resultProcessorRepoStub) FindApplicationByID(ctx context.Context, applicationID uuid.UUID) (*domain.RentalApplication, error) {
	if s.application == nil {
		return nil, store.ErrApplicationNotFound
	}
	return s.application, nil
}

func (s *resultProcessorRepoStub) ApplyScreeningResult(ctx context.Context, applicationID uuid.UUID, result *domain.ScreeningResult, ai *domain.AIAssessment) error {
	s.appliedResult = result
	s.appliedAI = ai
	return nil
}

func (s *resultProcessorRepoStub) CreateVerifiedQueueEntry(ctx context.Context, entry *domain.VerifiedQueueEntry) (bool, error) {
	s.queueCalls++
	if s.queueEntryExists {
		return false, nil
	}
	s.queueEntry = entry
	return true, nil
}

func (s *resultProcessorRepoStub) RecordQueueNotifyAttempt(ctx context.Context, orderID uuid.UUID, ok bool, notifyErr *string) error {
	s.notifyOK = &ok
	return nil
}

func (s *resultProcessorRepoStub) AppendScreeningEvent(ctx context.Context, event domain.ScreeningEvent) error {
	s.auditedTypes = append(s.auditedTypes, event.Type)
	return nil
}

func paidApplication(applicationID uuid.UUID) *domain.RentalApplication {
	return &domain.RentalApplication{
		ID:                applicationID,
		LandlordID:        uuid.New(),
		ApplicantFullName: "Jordan Ruiz",
		ApplicantEmail:    "jordan@example.com",
		Screening:         domain.ApplicationScreening{Status: domain.ScreeningStatusPaid},
	}
}

func TestApplyScreeningResult_SkipsCompletedApplication(t *testing.T) {
	orderID := uuid.New()
	applicationID := uuid.New()
	repo := &resultProcessorRepoStub{
		order: &domain.ScreeningOrder{ID: orderID, ApplicationID: applicationID, ServiceLevel: domain.ServiceLevelVerified},
		application: &domain.RentalApplication{
			ID:        applicationID,
			Screening: domain.ApplicationScreening{Status: domain.ScreeningStatusComplete},
		},
	}
	service := newTestService(repo, &stripeStub{}, &publisherStub{})

	outcome, err := service.ApplyScreeningResult(context.Background(), orderID, applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !outcome.Skipped {
		t.Fatal("expected a completed application to be skipped")
	}
	if repo.appliedResult != nil {
		t.Fatal("expected no result write for a completed application")
	}
	if repo.queueCalls != 0 {
		t.Fatal("expected no queue insert for a completed application")
	}
}

func TestApplyScreeningResult_SelfServeAppliesResultWithoutQueue(t *testing.T) {
	orderID := uuid.New()
	applicationID := uuid.New()
	repo := &resultProcessorRepoStub{
		order:       &domain.ScreeningOrder{ID: orderID, ApplicationID: applicationID, ServiceLevel: domain.ServiceLevelSelfServe},
		application: paidApplication(applicationID),
	}
	service := newTestService(repo, &stripeStub{}, &publisherStub{})

	outcome, err := service.ApplyScreeningResult(context.Background(), orderID, applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome.Skipped {
		t.Fatal("did not expect a skip")
	}
	if repo.appliedResult == nil {
		t.Fatal("expected a screening result to be written")
	}
	if repo.appliedAI != nil {
		t.Fatal("expected no AI assessment for a self-serve order")
	}
	if repo.queueCalls != 0 {
		t.Fatal("expected no verified-review queue insert for self-serve")
	}
	if !containsString(repo.auditedTypes, domain.AuditReportReady) {
		t.Fatalf("expected report_ready audit entry, got %v", repo.auditedTypes)
	}
}

func TestApplyScreeningResult_VerifiedAIWritesAssessmentAndNotifies(t *testing.T) {
	orderID := uuid.New()
	applicationID := uuid.New()
	repo := &resultProcessorRepoStub{
		order:       &domain.ScreeningOrder{ID: orderID, ApplicationID: applicationID, ServiceLevel: domain.ServiceLevelVerifiedAI},
		application: paidApplication(applicationID),
	}
	producer := &publisherStub{}
	service := newTestService(repo, &stripeStub{}, producer)

	outcome, err := service.ApplyScreeningResult(context.Background(), orderID, applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.appliedAI == nil {
		t.Fatal("expected an AI assessment for a VERIFIED_AI order")
	}
	if !outcome.QueuedForOps || !outcome.OpsNotifyOK {
		t.Fatalf("expected queued and notified outcome, got %+v", outcome)
	}
	if repo.queueEntry == nil || repo.queueEntry.Status != "pending" {
		t.Fatalf("expected a pending queue entry, got %+v", repo.queueEntry)
	}
	if !containsString(producer.published, "screening.ops.notify") {
		t.Fatalf("expected an ops notification, got %v", producer.published)
	}
	if repo.notifyOK == nil || !*repo.notifyOK {
		t.Fatal("expected a successful notify attempt to be recorded")
	}
	if !containsString(repo.auditedTypes, domain.AuditOpsNotified) {
		t.Fatalf("expected ops_notified audit entry, got %v", repo.auditedTypes)
	}
}

func TestApplyScreeningResult_RedeliveryDoesNotNotifyTwice(t *testing.T) {
	orderID := uuid.New()
	applicationID := uuid.New()
	repo := &resultProcessorRepoStub{
		order:            &domain.ScreeningOrder{ID: orderID, ApplicationID: applicationID, ServiceLevel: domain.ServiceLevelVerified},
		application:      paidApplication(applicationID),
		queueEntryExists: true,
	}
	producer := &publisherStub{}
	service := newTestService(repo, &stripeStub{}, producer)

	outcome, err := service.ApplyScreeningResult(context.Background(), orderID, applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome.QueuedForOps {
		t.Fatal("expected existing queue entry to suppress a second insert")
	}
	if containsString(producer.published, "screening.ops.notify") {
		t.Fatal("expected no second ops notification")
	}
}

func TestApplyScreeningResult_NotifyFailureRecordedAndAudited(t *testing.T) {
	orderID := uuid.New()
	applicationID := uuid.New()
	repo := &resultProcessorRepoStub{
		order:       &domain.ScreeningOrder{ID: orderID, ApplicationID: applicationID, ServiceLevel: domain.ServiceLevelVerified},
		application: paidApplication(applicationID),
	}
	producer := &publisherStub{failPublish: true}
	service := newTestService(repo, &stripeStub{}, producer)

	outcome, err := service.ApplyScreeningResult(context.Background(), orderID, applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !outcome.QueuedForOps || outcome.OpsNotifyOK {
		t.Fatalf("expected queued-but-unnotified outcome, got %+v", outcome)
	}
	if repo.notifyOK == nil || *repo.notifyOK {
		t.Fatal("expected a failed notify attempt to be recorded")
	}
	if !containsString(repo.auditedTypes, domain.AuditOpsNotifyFailed) {
		t.Fatalf("expected ops_notify_failed audit entry, got %v", repo.auditedTypes)
	}
}

func TestStubResultProvider_IsDeterministicPerApplication(t *testing.T) {
	provider := &StubResultProvider{}
	applicationID := uuid.New()

	first, err := provider.Compute(context.Background(), applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := provider.Compute(context.Background(), applicationID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if first.Score != second.Score || first.Band != second.Band || first.Recommendation != second.Recommendation {
		t.Fatalf("expected deterministic results, got %+v then %+v", first, second)
	}
	if first.Score < 0 || first.Score > 100 {
		t.Fatalf("expected score in [0,100], got %d", first.Score)
	}
}
