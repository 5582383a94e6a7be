/**
 * @description
 * This file defines the rental-application view used by the screening-service.
 * The service never performs general application CRUD; it reads the fields the
 * eligibility gate needs and writes only the `screening` sub-state, which is
 * mirrored as `screening_*` columns on the rental_applications table.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses that permit creating a screening checkout session.
var ScreeningEligibleStatuses = []string{"submitted", "under_review", "shortlisted"}

// Screening statuses carried on the application record. The status only ever
// advances forward: unpaid -> PENDING -> paid -> COMPLETE (or -> failed).
const (
	ScreeningStatusUnpaid     = "unpaid"
	ScreeningStatusPending    = "PENDING"
	ScreeningStatusPaid       = "paid"
	ScreeningStatusComplete   = "COMPLETE"
	ScreeningStatusIneligible = "ineligible"
	ScreeningStatusFailed     = "failed"
)

// RentalApplication is the subset of an application record the screening core
// reads and writes. General CRUD on applications lives outside this service.
type RentalApplication struct {
	ID                 uuid.UUID            `json:"id"`
	LandlordID         uuid.UUID            `json:"landlord_id"`
	PropertyID         *uuid.UUID           `json:"property_id,omitempty"`
	UnitID             *uuid.UUID           `json:"unit_id,omitempty"`
	Status             string               `json:"status"`
	ApplicantFullName  string               `json:"applicant_full_name"`
	ApplicantEmail     string               `json:"applicant_email"`
	ApplicantDOB       *time.Time           `json:"applicant_dob,omitempty"`
	ResidentialHistory []Address            `json:"residential_history,omitempty"`
	CreditCheckConsent bool                 `json:"credit_check_consent"`
	ReferenceConsent   bool                 `json:"reference_consent"`
	Screening          ApplicationScreening `json:"screening"`
}

// Address is one residential-history entry on an application.
type Address struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Region   string `json:"region,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// ApplicationScreening is the landlord-facing mirror of order state embedded
// in each application record. It is written only by the screening core.
type ApplicationScreening struct {
	Status         string           `json:"status"`
	Provider       string           `json:"provider,omitempty"`
	OrderID        *uuid.UUID       `json:"order_id,omitempty"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	Result         *ScreeningResult `json:"result,omitempty"`
	AI             *AIAssessment    `json:"ai,omitempty"`
	ConsentGiven   bool             `json:"consent_given"`
	ConsentAt      *time.Time       `json:"consent_at,omitempty"`
	ConsentVersion string           `json:"consent_version,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// ScreeningResult is the risk signal attached to an application once its
// order has been finalized and processed.
type ScreeningResult struct {
	Score          int       `json:"score"` // 0..100, higher is lower risk
	Band           string    `json:"band"`  // 'poor' | 'fair' | 'good' | 'excellent'
	Recommendation string    `json:"recommendation"`
	Provider       string    `json:"provider"`
	ComputedAt     time.Time `json:"computed_at"`
}

// AIAssessment is the optional AI-verification payload produced for
// VERIFIED_AI orders alongside the human-review queue entry.
type AIAssessment struct {
	Summary     string    `json:"summary"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ConsentPayload is the applicant consent snapshot required at checkout
// creation. Version must match the current consent-text version exactly.
type ConsentPayload struct {
	Given     bool      `json:"given"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	TextHash  string    `json:"text_hash,omitempty"`
}
