package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolgate/internal/store"
	"toolgate/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) AppendUsage(ctx context.Context, r store.UsageRecord) error {
	return errors.New("disk on fire")
}

func (failingStore) ListUsageByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.UsageRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	r := NewRecorder(failingStore{})

	// Must not panic or surface the error.
	r.Record(context.Background(), uuid.New(), uuid.New(), "tool", 10*time.Millisecond, store.StatusSuccess)
}

func TestRecordClampsNegativeLatency(t *testing.T) {
	mem := memory.New()
	r := NewRecorder(mem)
	principalID := uuid.New()

	r.Record(context.Background(), principalID, uuid.New(), "tool", -5*time.Millisecond, store.StatusSuccess)

	records, err := mem.ListUsageByPrincipal(context.Background(), principalID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].LatencyMs)
}

func TestStatsAggregation(t *testing.T) {
	mem := memory.New()
	r := NewRecorder(mem)
	ctx := context.Background()

	principalID := uuid.New()
	weatherID := uuid.New()
	githubID := uuid.New()

	r.Record(ctx, principalID, weatherID, "get_forecast", 100*time.Millisecond, store.StatusSuccess)
	r.Record(ctx, principalID, weatherID, "get_forecast", 300*time.Millisecond, store.StatusSuccess)
	r.Record(ctx, principalID, githubID, "create_issue", 50*time.Millisecond, store.StatusError)

	// Another principal's records stay out of the aggregate.
	r.Record(ctx, uuid.New(), weatherID, "get_forecast", 900*time.Millisecond, store.StatusSuccess)

	stats, err := r.StatsFor(ctx, principalID)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.InDelta(t, 150.0, stats.AvgLatencyMs, 0.01)

	require.Len(t, stats.ByIntegration, 2)
	weather := stats.ByIntegration[weatherID]
	assert.Equal(t, int64(2), weather.Calls)
	assert.Equal(t, int64(2), weather.SuccessCount)
	assert.InDelta(t, 200.0, weather.AvgLatencyMs, 0.01)

	github := stats.ByIntegration[githubID]
	assert.Equal(t, int64(1), github.Calls)
	assert.Equal(t, int64(1), github.ErrorCount)
	assert.InDelta(t, 50.0, github.AvgLatencyMs, 0.01)
}

func TestStatsEmpty(t *testing.T) {
	r := NewRecorder(memory.New())

	stats, err := r.StatsFor(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCalls)
	assert.Equal(t, 0.0, stats.AvgLatencyMs)
	assert.Empty(t, stats.ByIntegration)
}
