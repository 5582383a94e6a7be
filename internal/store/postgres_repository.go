/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for screening orders, the
 * stripe_events dedupe ledger, the screening_events audit log, the screening
 * mirror on rental applications, the verified-review queue and the landlord
 * billing mirror.
 *
 * The critical piece is `FinalizeOrder`: the dedupe-record existence check
 * and the order-finalization write are read and written within one database
 * transaction so that two concurrent deliveries for the same event or the
 * same order cannot both observe "not yet finalized". The order row is locked
 * with SELECT ... FOR UPDATE and the stripe_events primary key backstops the
 * race with a unique violation.
 *
 * @dependencies
 * - context, time, errors, encoding/json: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rentora/screening-service/internal/domain"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrEventAlreadySeen    = errors.New("gateway event already processed")
	ErrQueueEntryNotFound  = errors.New("verified queue entry not found")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `
	id, reference_id, application_id, landlord_id, property_id, unit_id,
	amount_cents, total_amount_cents, currency, screening_tier, addons,
	service_level, stripe_session_id, stripe_payment_intent_id,
	payment_status, finalized, finalized_at, paid_at, last_stripe_event_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.ScreeningOrder, error) {
	var order domain.ScreeningOrder
	err := row.Scan(
		&order.ID, &order.ReferenceID, &order.ApplicationID, &order.LandlordID,
		&order.PropertyID, &order.UnitID, &order.AmountCents, &order.TotalAmountCents,
		&order.Currency, &order.ScreeningTier, &order.Addons, &order.ServiceLevel,
		&order.StripeSessionID, &order.StripePaymentIntentID, &order.PaymentStatus,
		&order.Finalized, &order.FinalizedAt, &order.PaidAt, &order.LastStripeEventID,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// CreateOrder inserts a new screening order in status CREATED/unpaid.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.ScreeningOrder) error {
	query := `
		INSERT INTO screening_orders (
			id, reference_id, application_id, landlord_id, property_id, unit_id,
			amount_cents, total_amount_cents, currency, screening_tier, addons,
			service_level, stripe_session_id, stripe_payment_intent_id, payment_status, finalized
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, false)
	`
	_, err := r.db.Exec(ctx, query,
		order.ID, order.ReferenceID, order.ApplicationID, order.LandlordID,
		order.PropertyID, order.UnitID, order.AmountCents, order.TotalAmountCents,
		order.Currency, order.ScreeningTier, order.Addons, order.ServiceLevel,
		order.StripeSessionID, order.StripePaymentIntentID, domain.PaymentStatusUnpaid,
	)
	return err
}

// FindOrderByID retrieves a screening order by its system-generated id.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.ScreeningOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM screening_orders WHERE id = $1`
	return scanOrder(r.db.QueryRow(ctx, query, orderID))
}

// ResolveOrder locates the order a webhook refers to. The three correlation
// IDs become known at different times, so any one webhook might carry only a
// subset: order id is ours and most specific, session id appears once
// checkout is created, payment-intent id only once payment is attempted.
func (r *PostgresRepository) ResolveOrder(ctx context.Context, orderID *uuid.UUID, sessionID, paymentIntentID string) (*domain.ScreeningOrder, error) {
	if orderID != nil {
		order, err := r.FindOrderByID(ctx, *orderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	if sessionID != "" {
		query := `SELECT ` + orderColumns + ` FROM screening_orders WHERE stripe_session_id = $1 LIMIT 1`
		order, err := scanOrder(r.db.QueryRow(ctx, query, sessionID))
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	if paymentIntentID != "" {
		query := `SELECT ` + orderColumns + ` FROM screening_orders WHERE stripe_payment_intent_id = $1 LIMIT 1`
		order, err := scanOrder(r.db.QueryRow(ctx, query, paymentIntentID))
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, ErrOrderNotFound
}

// FinalizeOrder commits the paid state for an order exactly once. All reads
// and writes happen inside one transaction:
//  1. if the event id is already in stripe_events, report AlreadyProcessed;
//  2. lock the order row FOR UPDATE;
//  3. if the order was finalized by an earlier, different event, backfill any
//     still-missing correlation columns without touching paid_at/finalized_at
//     and report AlreadyFinalized;
//  4. otherwise stamp payment_status/finalized/paid_at/finalized_at and
//     advance the owning application's screening status to 'paid'.
// The dedupe row is written in the same transaction in every branch that
// accepts the event.
func (r *PostgresRepository) FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*FinalizeOrderOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var seen bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stripe_events WHERE event_id = $1)`, params.EventID).Scan(&seen)
	if err != nil {
		return nil, err
	}
	if seen {
		return &FinalizeOrderOutcome{AlreadyProcessed: true, AlreadyFinalized: true, OrderID: params.OrderID}, nil
	}

	// Lock the pre-fetched order row. A concurrent finalization for the same
	// order blocks here until the other transaction commits.
	query := `SELECT ` + orderColumns + ` FROM screening_orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(tx.QueryRow(ctx, query, params.OrderID))
	if err != nil {
		return nil, err
	}

	outcome := &FinalizeOrderOutcome{
		OrderID:       order.ID,
		ApplicationID: order.ApplicationID,
	}

	if order.Finalized {
		// Normal cross-event case: a different event already paid this order.
		// Backfill correlation IDs only; paid_at/finalized_at never change.
		_, err = tx.Exec(ctx, `
			UPDATE screening_orders
			SET stripe_session_id        = COALESCE(stripe_session_id, NULLIF($2, '')),
			    stripe_payment_intent_id = COALESCE(stripe_payment_intent_id, NULLIF($3, '')),
			    currency                 = COALESCE(NULLIF(currency, ''), NULLIF($4, '')),
			    total_amount_cents       = CASE WHEN total_amount_cents = 0 THEN $5 ELSE total_amount_cents END,
			    updated_at               = NOW()
			WHERE id = $1
		`, order.ID, params.SessionID, params.PaymentIntentID, params.Currency, params.AmountTotalCents)
		if err != nil {
			return nil, err
		}
		outcome.AlreadyFinalized = true
		if order.PaidAt != nil {
			outcome.PaidAt = *order.PaidAt
		}
	} else {
		var paidAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE screening_orders
			SET payment_status           = $2,
			    finalized                = true,
			    paid_at                  = NOW(),
			    finalized_at             = NOW(),
			    last_stripe_event_id     = $3,
			    stripe_session_id        = COALESCE(stripe_session_id, NULLIF($4, '')),
			    stripe_payment_intent_id = COALESCE(stripe_payment_intent_id, NULLIF($5, '')),
			    currency                 = COALESCE(NULLIF(currency, ''), NULLIF($6, '')),
			    total_amount_cents       = CASE WHEN total_amount_cents = 0 THEN $7 ELSE total_amount_cents END,
			    updated_at               = NOW()
			WHERE id = $1
			RETURNING paid_at
		`, order.ID, domain.PaymentStatusPaid, params.EventID, params.SessionID,
			params.PaymentIntentID, params.Currency, params.AmountTotalCents).Scan(&paidAt)
		if err != nil {
			return nil, err
		}
		outcome.PaidAt = paidAt

		// Mirror the paid state onto the owning application. The screening
		// status only ever advances forward, so 'COMPLETE' is left alone.
		_, err = tx.Exec(ctx, `
			UPDATE rental_applications
			SET screening_status   = $2,
			    screening_order_id = $3,
			    screening_paid_at  = NOW(),
			    updated_at         = NOW()
			WHERE id = $1 AND screening_status NOT IN ($4, $5)
		`, order.ApplicationID, domain.ScreeningStatusPaid, order.ID,
			domain.ScreeningStatusComplete, domain.ScreeningStatusFailed)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stripe_events (event_id, event_type, order_id, session_id, payment_intent_id, resolved)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), true)
	`, params.EventID, params.EventType, order.ID, params.SessionID, params.PaymentIntentID)
	if err != nil {
		// A concurrent delivery of the same event won the ledger insert while
		// we were waiting on the order lock.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &FinalizeOrderOutcome{
				AlreadyProcessed: true,
				AlreadyFinalized: true,
				OrderID:          order.ID,
				ApplicationID:    order.ApplicationID,
			}, nil
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

// GatewayEventExists reports whether an event id is already in the dedupe ledger.
func (r *PostgresRepository) GatewayEventExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stripe_events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}

// RecordUnresolvedGatewayEvent writes a dedupe row for an event whose order
// could not be found, so a human can diagnose orphaned payments. Redelivery
// of the same unresolved event is a no-op.
func (r *PostgresRepository) RecordUnresolvedGatewayEvent(ctx context.Context, event *domain.GatewayEvent) error {
	query := `
		INSERT INTO stripe_events (event_id, event_type, order_id, session_id, payment_intent_id, resolved)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, event.EventID, event.EventType, event.OrderID, event.SessionID, event.PaymentIntentID)
	return err
}

// FindApplicationByID loads the screening view of a rental application.
func (r *PostgresRepository) FindApplicationByID(ctx context.Context, applicationID uuid.UUID) (*domain.RentalApplication, error) {
	var (
		app        domain.RentalApplication
		history    []byte
		resultJSON []byte
		aiJSON     []byte
	)
	query := `
		SELECT id, landlord_id, property_id, unit_id, status,
		       applicant_full_name, applicant_email, applicant_dob, residential_history,
		       credit_check_consent, reference_consent,
		       screening_status, COALESCE(screening_provider, ''), screening_order_id,
		       screening_paid_at, screening_result, screening_ai,
		       screening_consent_given, screening_consent_at, COALESCE(screening_consent_version, ''),
		       screening_completed_at
		FROM rental_applications
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, applicationID).Scan(
		&app.ID, &app.LandlordID, &app.PropertyID, &app.UnitID, &app.Status,
		&app.ApplicantFullName, &app.ApplicantEmail, &app.ApplicantDOB, &history,
		&app.CreditCheckConsent, &app.ReferenceConsent,
		&app.Screening.Status, &app.Screening.Provider, &app.Screening.OrderID,
		&app.Screening.PaidAt, &resultJSON, &aiJSON,
		&app.Screening.ConsentGiven, &app.Screening.ConsentAt, &app.Screening.ConsentVersion,
		&app.Screening.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &app.ResidentialHistory); err != nil {
			return nil, fmt.Errorf("decode residential history: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &app.Screening.Result); err != nil {
			return nil, fmt.Errorf("decode screening result: %w", err)
		}
	}
	if len(aiJSON) > 0 {
		if err := json.Unmarshal(aiJSON, &app.Screening.AI); err != nil {
			return nil, fmt.Errorf("decode ai assessment: %w", err)
		}
	}
	return &app, nil
}

// MarkApplicationScreeningPending records the consent snapshot and advances
// the screening status to PENDING when a checkout session is created.
func (r *PostgresRepository) MarkApplicationScreeningPending(ctx context.Context, applicationID, orderID uuid.UUID, consent domain.ConsentPayload) error {
	query := `
		UPDATE rental_applications
		SET screening_status          = $2,
		    screening_order_id        = $3,
		    screening_consent_given   = $4,
		    screening_consent_at      = $5,
		    screening_consent_version = $6,
		    updated_at                = NOW()
		WHERE id = $1 AND screening_status IN ($7, $8)
	`
	result, err := r.db.Exec(ctx, query, applicationID, domain.ScreeningStatusPending, orderID,
		consent.Given, consent.Timestamp, consent.Version,
		domain.ScreeningStatusUnpaid, domain.ScreeningStatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// ApplyScreeningResult attaches the computed result to the application and
// advances its screening status to COMPLETE. The guard on the status column
// keeps the transition forward-only.
func (r *PostgresRepository) ApplyScreeningResult(ctx context.Context, applicationID uuid.UUID, result *domain.ScreeningResult, ai *domain.AIAssessment) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode screening result: %w", err)
	}
	var aiJSON []byte
	if ai != nil {
		aiJSON, err = json.Marshal(ai)
		if err != nil {
			return fmt.Errorf("encode ai assessment: %w", err)
		}
	}
	query := `
		UPDATE rental_applications
		SET screening_status       = $2,
		    screening_provider     = $3,
		    screening_result       = $4,
		    screening_ai           = $5,
		    screening_completed_at = NOW(),
		    updated_at             = NOW()
		WHERE id = $1 AND screening_status <> $2
	`
	cmdTag, err := r.db.Exec(ctx, query, applicationID, domain.ScreeningStatusComplete,
		result.Provider, resultJSON, aiJSON)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// AppendScreeningEvent writes one audit row. The ledger is append-only.
func (r *PostgresRepository) AppendScreeningEvent(ctx context.Context, event domain.ScreeningEvent) error {
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	query := `
		INSERT INTO screening_events (id, application_id, type, actor, meta, at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err = r.db.Exec(ctx, query, id, event.ApplicationID, event.Type, event.Actor, metaJSON)
	return err
}

// ListScreeningEvents returns the most recent audit rows for an application.
func (r *PostgresRepository) ListScreeningEvents(ctx context.Context, applicationID uuid.UUID, limit int) ([]domain.ScreeningEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	query := `
		SELECT id, application_id, type, actor, meta, at
		FROM screening_events
		WHERE application_id = $1
		ORDER BY at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, applicationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ScreeningEvent
	for rows.Next() {
		var event domain.ScreeningEvent
		var metaJSON []byte
		if err := rows.Scan(&event.ID, &event.ApplicationID, &event.Type, &event.Actor, &metaJSON, &event.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &event.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateVerifiedQueueEntry inserts a human-review work item. The unique index
// on order_id makes this an at-most-once operation; created reports whether
// this call inserted the row.
func (r *PostgresRepository) CreateVerifiedQueueEntry(ctx context.Context, entry *domain.VerifiedQueueEntry) (bool, error) {
	query := `
		INSERT INTO verified_screening_queue (
			id, order_id, application_id, landlord_id, service_level,
			applicant_summary, status, notify_ok
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', false)
		ON CONFLICT (order_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		entry.ID, entry.OrderID, entry.ApplicationID, entry.LandlordID,
		entry.ServiceLevel, entry.ApplicantSummary,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// RecordQueueNotifyAttempt records the outcome of the single operator
// notification attempt for a queue entry. Notification failure is non-fatal
// and recorded, never rolled back.
func (r *PostgresRepository) RecordQueueNotifyAttempt(ctx context.Context, orderID uuid.UUID, ok bool, notifyErr *string) error {
	query := `
		UPDATE verified_screening_queue
		SET notify_ok = $2, notify_error = $3, notified_at = NOW()
		WHERE order_id = $1
	`
	result, err := r.db.Exec(ctx, query, orderID, ok, notifyErr)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

// UpsertLandlordBilling creates or updates the billing-plan mirror for a
// landlord from a subscription-lifecycle webhook event.
func (r *PostgresRepository) UpsertLandlordBilling(ctx context.Context, billing *domain.LandlordBilling) error {
	query := `
		INSERT INTO landlord_billing (landlord_id, stripe_customer_id, plan, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (landlord_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			plan               = EXCLUDED.plan,
			status             = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at         = NOW()
	`
	_, err := r.db.Exec(ctx, query, billing.LandlordID, billing.StripeCustomerID,
		billing.Plan, billing.Status, billing.CurrentPeriodEnd)
	return err
}
