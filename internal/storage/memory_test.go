package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
)

func int64p(v int64) *int64 { return &v }

func activeBenchmark(name string, mutate func(*models.Benchmark)) *models.Benchmark {
	b := &models.Benchmark{
		Name:           name,
		ServiceType:    "storage_bucket",
		Provider:       models.ProviderAWS,
		AvgCostPerUnit: decimal.NewFromFloat(0.025),
		MinCostPerUnit: decimal.NewFromFloat(0.01),
		MaxCostPerUnit: decimal.NewFromFloat(0.05),
		Unit:           "GB-Month",
		ValidFrom:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
	if mutate != nil {
		mutate(b)
	}
	return b
}

func TestFindBestSpecificityResolution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	global := activeBenchmark("global", nil)
	globalRegion := activeBenchmark("global us-east-1", func(b *models.Benchmark) {
		b.Region = "us-east-1"
	})
	owner := activeBenchmark("owner 9", func(b *models.Benchmark) {
		b.OwnerID = int64p(9)
	})
	ownerRegion := activeBenchmark("owner 9 us-east-1", func(b *models.Benchmark) {
		b.OwnerID = int64p(9)
		b.Region = "us-east-1"
	})
	for _, b := range []*models.Benchmark{global, globalRegion, owner, ownerRegion} {
		require.NoError(t, store.CreateBenchmark(ctx, b))
	}

	tests := []struct {
		name     string
		region   string
		ownerID  *int64
		expected string
	}{
		{name: "owner and region beats all", region: "us-east-1", ownerID: int64p(9), expected: "owner 9 us-east-1"},
		{name: "owner beats global region", region: "eu-west-1", ownerID: int64p(9), expected: "owner 9"},
		{name: "region-specific beats global", region: "us-east-1", ownerID: nil, expected: "global us-east-1"},
		{name: "global fallback", region: "eu-west-1", ownerID: nil, expected: "global"},
		{name: "unknown owner falls to global", region: "eu-west-1", ownerID: int64p(404), expected: "global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, err := store.FindBest(ctx, "storage_bucket", models.ProviderAWS, tt.region, tt.ownerID, at)
			require.NoError(t, err)
			require.NotNil(t, best)
			assert.Equal(t, tt.expected, best.Name)
		})
	}
}

func TestFindBestValidityAndActivity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := activeBenchmark("expired", func(b *models.Benchmark) {
		until := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		b.ValidUntil = &until
	})
	inactive := activeBenchmark("inactive", func(b *models.Benchmark) {
		b.IsActive = false
	})
	notYet := activeBenchmark("future", func(b *models.Benchmark) {
		b.ValidFrom = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	for _, b := range []*models.Benchmark{expired, inactive, notYet} {
		require.NoError(t, store.CreateBenchmark(ctx, b))
	}

	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	best, err := store.FindBest(ctx, "storage_bucket", models.ProviderAWS, "", nil, at)
	require.NoError(t, err)
	assert.Nil(t, best)

	// before its expiry the expired benchmark is usable
	best, err = store.FindBest(ctx, "storage_bucket", models.ProviderAWS, "", nil,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "expired", best.Name)
}

func TestFindBestTieBreaksOnUpdatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := activeBenchmark("stale", func(b *models.Benchmark) {
		b.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	fresh := activeBenchmark("fresh", func(b *models.Benchmark) {
		b.UpdatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	})
	require.NoError(t, store.CreateBenchmark(ctx, stale))
	require.NoError(t, store.CreateBenchmark(ctx, fresh))

	best, err := store.FindBest(ctx, "storage_bucket", models.ProviderAWS, "", nil,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "fresh", best.Name)
}

func TestListCostRecordsFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	may := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	july := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	records := []*models.CostRecord{
		{ResourceID: "r-aws", Provider: models.ProviderAWS, ServiceType: "storage_bucket",
			Region: "us-east-1", CostAmount: decimal.NewFromInt(10), Currency: "USD",
			PeriodStart: may, PeriodEnd: june},
		{ResourceID: "r-gcp", Provider: models.ProviderGCP, ServiceType: "compute_instance",
			Region: "us-east1", CostAmount: decimal.NewFromInt(20), Currency: "USD",
			PeriodStart: june, PeriodEnd: july},
	}
	for _, r := range records {
		require.NoError(t, store.CreateCostRecord(ctx, r))
	}

	all, err := store.ListCostRecords(ctx, CostFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	aws, err := store.ListCostRecords(ctx, CostFilter{Provider: models.ProviderAWS})
	require.NoError(t, err)
	require.Len(t, aws, 1)
	assert.Equal(t, "r-aws", aws[0].ResourceID)

	// half-open periods: [may, june) does not overlap the window [june, july)
	windowed, err := store.ListCostRecords(ctx, CostFilter{PeriodStart: &june, PeriodEnd: &july})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "r-gcp", windowed[0].ResourceID)

	late := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	none, err := store.ListCostRecords(ctx, CostFilter{PeriodStart: &late})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := store.ListCostRecords(ctx, CostFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r-gcp", limited[0].ResourceID)
}

func TestDecisionStoreAdapter(t *testing.T) {
	memory := NewMemoryStore()
	store := memory.DecisionStore()
	ctx := context.Background()

	savings := decimal.NewFromInt(100)
	d := &models.Decision{
		CostRecordID:            int64p(1),
		Recommendation:          "Archive bucket",
		ActionType:              models.ActionArchive,
		Confidence:              0.8,
		EstimatedSavingsMonthly: &savings,
		Currency:                "USD",
		RuleID:                  "storage_old_unused",
		WebhookStatus:           models.WebhookPending,
	}
	require.NoError(t, store.Create(ctx, d))
	assert.NotZero(t, d.ID)

	loaded, err := store.GetByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Archive bucket", loaded.Recommendation)

	missing, err := store.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := store.ExistsForRule(ctx, 1, "storage_old_unused")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ExistsForRule(ctx, 1, "other_rule")
	require.NoError(t, err)
	assert.False(t, exists)

	now := time.Now().UTC()
	loaded.DismissedAt = &now
	require.NoError(t, store.Update(ctx, loaded))

	dismissed, err := store.List(ctx, decisions.DecisionFilter{Status: "dismissed"})
	require.NoError(t, err)
	assert.Len(t, dismissed, 1)

	pending, err := store.List(ctx, decisions.DecisionFilter{Status: "pending"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDecisionStatistics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	s1 := decimal.NewFromInt(100)
	s2 := decimal.NewFromInt(40)

	pending := &models.Decision{
		Recommendation: "Archive", ActionType: models.ActionArchive,
		EstimatedSavingsMonthly: &s1, Currency: "USD",
	}
	dismissed := &models.Decision{
		Recommendation: "Delete", ActionType: models.ActionDelete,
		EstimatedSavingsMonthly: &s2, Currency: "USD",
		DismissedAt: &now,
	}
	executed := &models.Decision{
		Recommendation: "Downsize", ActionType: models.ActionDownsize,
		Currency: "USD", IsAutomated: true,
		ApprovedAt: &now, ExecutedAt: &now,
	}
	for _, d := range []*models.Decision{pending, dismissed, executed} {
		require.NoError(t, store.CreateDecision(ctx, d))
	}

	stats, err := store.DecisionStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.PendingApproval)
	assert.Equal(t, int64(1), stats.ByStatus["dismissed"])
	assert.Equal(t, int64(1), stats.ByStatus["executed"])
	assert.Equal(t, int64(1), stats.AutomatedExecutions)
	// dismissed decisions do not count toward savings
	assert.True(t, decimal.NewFromInt(100).Equal(stats.TotalEstimatedSavings))
}

func TestWebhookLogStoreAndPruning(t *testing.T) {
	memory := NewMemoryStore()
	logs := memory.WebhookLogStore()
	ctx := context.Background()

	old := &models.WebhookLog{DecisionID: 1, AttemptNumber: 1,
		Status: models.WebhookLogStatusFailure,
		TriggeredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	recent := &models.WebhookLog{DecisionID: 1, AttemptNumber: 2,
		Status: models.WebhookLogStatusSuccess,
		TriggeredAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	other := &models.WebhookLog{DecisionID: 2, AttemptNumber: 1,
		Status: models.WebhookLogStatusSuccess,
		TriggeredAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	for _, l := range []*models.WebhookLog{old, recent, other} {
		require.NoError(t, logs.Create(ctx, l))
	}

	byDecision, err := logs.ListByDecision(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byDecision, 2)

	count, err := logs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	pruned, err := memory.PruneWebhookLogs(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	count, err = logs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGetCostRecordNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetCostRecord(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
