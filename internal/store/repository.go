/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the screening-service. By
 * defining an interface, we decouple the application's business logic from
 * the specific database implementation (e.g., PostgreSQL), making the code
 * more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Screening order methods
	CreateOrder(ctx context.Context, order *domain.ScreeningOrder) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error)
	// ResolveOrder locates the single order a webhook refers to, trying
	// order id, then checkout-session id, then payment-intent id, in that
	// order. Returns ErrOrderNotFound when no correlation ID matches.
	ResolveOrder(ctx context.Context, orderID *uuid.UUID, sessionID, paymentIntentID string) (*domain.ScreeningOrder, error)

	// Finalization. Executes the dedupe check, the order finalization and the
	// application mirror update as one atomic database transaction.
	FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*FinalizeOrderOutcome, error)

	// Gateway-event dedupe ledger methods
	GatewayEventExists(ctx context.Context, eventID string) (bool, error)
	RecordUnresolvedGatewayEvent(ctx context.Context, event *domain.GatewayEvent) error

	// Rental application screening methods
	FindApplicationByID(ctx context.Context, applicationID uuid.UUID) (*domain.RentalApplication, error)
	MarkApplicationScreeningPending(ctx context.Context, applicationID, orderID uuid.UUID, consent domain.ConsentPayload) error
	ApplyScreeningResult(ctx context.Context, applicationID uuid.UUID, result *domain.ScreeningResult, ai *domain.AIAssessment) error

	// Audit ledger methods
	AppendScreeningEvent(ctx context.Context, event domain.ScreeningEvent) error
	ListScreeningEvents(ctx context.Context, applicationID uuid.UUID, limit int) ([]domain.ScreeningEvent, error)

	// Verified-review queue methods
	CreateVerifiedQueueEntry(ctx context.Context, entry *domain.VerifiedQueueEntry) (created bool, err error)
	RecordQueueNotifyAttempt(ctx context.Context, orderID uuid.UUID, ok bool, notifyErr *string) error

	// Landlord billing mirror methods
	UpsertLandlordBilling(ctx context.Context, billing *domain.LandlordBilling) error
}

// FinalizeOrderParams carries one payment-succeeded signal into the atomic
// finalization transaction. OrderID is the separately pre-fetched order
// reference; the remaining correlation fields are used only to backfill
// columns that are still missing on the order row.
type FinalizeOrderParams struct {
	EventID          string
	EventType        string
	OrderID          uuid.UUID
	SessionID        string
	PaymentIntentID  string
	AmountTotalCents int64
	Currency         string
}

// FinalizeOrderOutcome reports which branch the finalization transaction
// took. AlreadyProcessed means this exact event id was seen before;
// AlreadyFinalized means the order was paid by an earlier, different event.
// AlreadyProcessed == false && AlreadyFinalized == false is the one signal
// that downstream result processing must run.
type FinalizeOrderOutcome struct {
	AlreadyProcessed bool
	AlreadyFinalized bool
	OrderID          uuid.UUID
	ApplicationID    uuid.UUID
	PaidAt           time.Time
}
