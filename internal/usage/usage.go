// Package usage is the append-only call log: one record per gateway
// call, used for both display and billing. Recording failures never
// reach the API caller.
package usage

import (
	"context"
	"time"

	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
)

// IntegrationStats is the per-integration slice of a principal's usage.
type IntegrationStats struct {
	Calls        int64   `json:"calls"`
	SuccessCount int64   `json:"successCount"`
	ErrorCount   int64   `json:"errorCount"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// Stats aggregates a principal's usage on demand; nothing is
// precomputed or rolled up.
type Stats struct {
	TotalCalls    int64                          `json:"totalCalls"`
	SuccessCount  int64                          `json:"successCount"`
	ErrorCount    int64                          `json:"errorCount"`
	AvgLatencyMs  float64                        `json:"avgLatencyMs"`
	ByIntegration map[uuid.UUID]IntegrationStats `json:"byIntegration"`
}

// Recorder appends usage records and aggregates them for display.
type Recorder struct {
	store store.UsageStore
}

// NewRecorder creates a usage recorder.
func NewRecorder(s store.UsageStore) *Recorder {
	return &Recorder{store: s}
}

// Record appends one usage record. A failed write is logged and
// swallowed: usage recording must never change the caller-visible
// outcome of the call that produced it.
func (r *Recorder) Record(ctx context.Context, principalID, integrationID uuid.UUID, toolName string, latency time.Duration, status store.CallStatus) {
	latencyMs := latency.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	rec := store.UsageRecord{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		IntegrationID: integrationID,
		ToolName:      toolName,
		LatencyMs:     latencyMs,
		Status:        status,
		CreatedAt:     time.Now(),
	}

	if err := r.store.AppendUsage(ctx, rec); err != nil {
		logging.Error("Usage", err, "Failed to append usage record for principal %s tool %s", principalID, toolName)
	}
}

// StatsFor recomputes the principal's usage aggregates from the raw
// records.
func (r *Recorder) StatsFor(ctx context.Context, principalID uuid.UUID) (Stats, error) {
	records, err := r.store.ListUsageByPrincipal(ctx, principalID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByIntegration: make(map[uuid.UUID]IntegrationStats)}
	var totalLatency int64
	perLatency := make(map[uuid.UUID]int64)

	for _, rec := range records {
		stats.TotalCalls++
		totalLatency += rec.LatencyMs

		s := stats.ByIntegration[rec.IntegrationID]
		s.Calls++
		perLatency[rec.IntegrationID] += rec.LatencyMs

		if rec.Status == store.StatusSuccess {
			stats.SuccessCount++
			s.SuccessCount++
		} else {
			stats.ErrorCount++
			s.ErrorCount++
		}
		stats.ByIntegration[rec.IntegrationID] = s
	}

	if stats.TotalCalls > 0 {
		stats.AvgLatencyMs = float64(totalLatency) / float64(stats.TotalCalls)
	}
	for id, s := range stats.ByIntegration {
		if s.Calls > 0 {
			s.AvgLatencyMs = float64(perLatency[id]) / float64(s.Calls)
			stats.ByIntegration[id] = s
		}
	}

	return stats, nil
}
