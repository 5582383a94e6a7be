/**
 * @description
 * This file defines the screening result provider abstraction and the
 * built-in stub provider. The stub derives a deterministic score from the
 * application id so that repeated computations for the same application
 * always agree, which keeps the result pipeline idempotent end to end.
 */

package app

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
)

// Provider error taxonomy. Callers branch on these to decide between retry
// and permanent failure.
var (
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	ErrProviderValidation    = errors.New("provider_validation_error")
	ErrProviderRateLimited   = errors.New("provider_rate_limited")
	ErrProviderTimeout       = errors.New("provider_timeout")
)

// ResultProvider computes a screening result for an application. Real
// providers call out to a bureau; the stub computes locally.
type ResultProvider interface {
	Compute(ctx context.Context, applicationID uuid.UUID) (*domain.ScreeningResult, error)
	Name() string
}

// StubResultProvider is the default provider. It hashes the application id
// into a stable 0-100 score and maps it onto bands.
type StubResultProvider struct{}

func (p *StubResultProvider) Name() string { return "stub" }

func (p *StubResultProvider) Compute(_ context.Context, applicationID uuid.UUID) (*domain.ScreeningResult, error) {
	if applicationID == uuid.Nil {
		return nil, ErrProviderValidation
	}
	score := stableScore(applicationID)
	band, recommendation := classifyScore(score)
	return &domain.ScreeningResult{
		Score:          score,
		Band:           band,
		Recommendation: recommendation,
		Provider:       p.Name(),
		ComputedAt:     time.Now().UTC(),
	}, nil
}

func stableScore(applicationID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(applicationID[:])
	return int(h.Sum32() % 101)
}

func classifyScore(score int) (band, recommendation string) {
	switch {
	case score >= 75:
		return "excellent", "approve"
	case score >= 50:
		return "good", "approve_with_conditions"
	case score >= 25:
		return "fair", "review"
	default:
		return "poor", "decline"
	}
}
