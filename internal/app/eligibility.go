/**
 * @description
 * This file implements the screening eligibility gate. An application may
 * only purchase screening while it is in an active review status and carries
 * the identity and consent data the screening providers require. Checks run
 * in a fixed order and the first failure wins; every evaluation is audited
 * with its reason code.
 */

package app

import (
	"context"

	"github.com/rentora/screening-service/internal/domain"
)

// EligibilityResult reports whether an application may enter checkout and,
// when it may not, the machine-readable reason.
type EligibilityResult struct {
	Eligible   bool   `json:"eligible"`
	ReasonCode string `json:"reason_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// EvaluateEligibility runs the gate checks against an already-loaded
// application. Checks are ordered from cheapest to most specific.
func (s *Service) EvaluateEligibility(ctx context.Context, application *domain.RentalApplication) EligibilityResult {
	result := evaluateEligibility(application)
	s.audit(ctx, application.ID, domain.AuditEligibilityChecked, map[string]any{
		"eligible":    result.Eligible,
		"reason_code": result.ReasonCode,
	})
	return result
}

func evaluateEligibility(application *domain.RentalApplication) EligibilityResult {
	if !statusEligible(application.Status) {
		return EligibilityResult{
			ReasonCode: "application_status_not_eligible",
			Detail:     "application status " + application.Status + " does not allow screening",
		}
	}
	if !application.CreditCheckConsent || !application.ReferenceConsent {
		return EligibilityResult{
			ReasonCode: "consent_missing",
			Detail:     "applicant has not granted both screening consents",
		}
	}
	if application.ApplicantDOB == nil || application.ApplicantDOB.IsZero() {
		return EligibilityResult{
			ReasonCode: "dob_missing",
			Detail:     "applicant date of birth is required for identity matching",
		}
	}
	if len(application.ResidentialHistory) == 0 {
		return EligibilityResult{
			ReasonCode: "address_history_missing",
			Detail:     "at least one residential history entry is required",
		}
	}
	return EligibilityResult{Eligible: true}
}

func statusEligible(status string) bool {
	for _, eligible := range domain.ScreeningEligibleStatuses {
		if status == eligible {
			return true
		}
	}
	return false
}
