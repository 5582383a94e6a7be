/**
 * @description
 * This file implements the provider health tracker. It is a small in-memory
 * record of the last provider failure, injected into the service so that the
 * health endpoint can surface degraded screening computation without a
 * package-level singleton.
 */

package app

import (
	"sync"
	"time"
)

// ProviderHealth tracks the most recent result-provider failure. It is safe
// for concurrent use.
type ProviderHealth struct {
	mu           sync.Mutex
	failureCount int
	lastError    string
	lastFailure  time.Time
	lastSuccess  time.Time
}

// ProviderHealthSnapshot is a point-in-time copy for the health endpoint.
type ProviderHealthSnapshot struct {
	Healthy      bool       `json:"healthy"`
	FailureCount int        `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}

func NewProviderHealth() *ProviderHealth {
	return &ProviderHealth{}
}

// RecordFailure notes a provider error.
func (h *ProviderHealth) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failureCount++
	h.lastError = err.Error()
	h.lastFailure = time.Now().UTC()
}

// RecordSuccess notes a successful computation and clears the error state.
func (h *ProviderHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = ""
	h.lastSuccess = time.Now().UTC()
}

// Snapshot returns the current health view. The provider is reported healthy
// until a failure occurs that has not been followed by a success.
func (h *ProviderHealth) Snapshot() ProviderHealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := ProviderHealthSnapshot{
		Healthy:      h.lastError == "",
		FailureCount: h.failureCount,
		LastError:    h.lastError,
	}
	if !h.lastFailure.IsZero() {
		failure := h.lastFailure
		snapshot.LastFailure = &failure
	}
	if !h.lastSuccess.IsZero() {
		success := h.lastSuccess
		snapshot.LastSuccess = &success
	}
	return snapshot
}
