package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/costopt/internal/classification"
	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/storage"
)

type noopDeliverer struct{}

func (noopDeliverer) DeliverWithRetry(ctx context.Context, d *models.Decision) ([]*models.WebhookLog, error) {
	return nil, nil
}

func (noopDeliverer) GenerateSecret() (string, error) { return "secret", nil }

func newTestPipeline(t *testing.T) (*Pipeline, *storage.MemoryStore, *decisions.Service) {
	t.Helper()

	store := storage.NewMemoryStore()
	classifier := classification.NewService(classification.NewEngine(), store, store)
	decisionSvc := decisions.NewService(
		decisions.NewEngine(), store.DecisionStore(), store.WebhookLogStore(), noopDeliverer{})

	p := New(classifier, cost.NewAnalyzer(), decisionSvc, store, store)
	return p, store, decisionSvc
}

func TestRunEmptyStores(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.CostRecords)
	assert.Empty(t, result.Decisions)
	assert.Empty(t, result.Anomalies)
	assert.Empty(t, result.Opportunities)
	assert.NotEmpty(t, result.Classification.Message)
}

func TestRunEndToEnd(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	updated := time.Now().UTC().AddDate(0, 0, -400)
	metadata := &models.MetadataRecord{
		EntityType:        "storage_bucket",
		EntityID:          "bucket-logs",
		Provider:          models.ProviderAWS,
		Region:            "us-east-1",
		Attributes:        map[string]interface{}{"object_count": 5000, "size_gb": 500},
		ResourceUpdatedAt: &updated,
		DiscoveredAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateMetadataRecord(ctx, metadata))

	costRecord := &models.CostRecord{
		MetadataRecordID: &metadata.ID,
		ResourceID:       "bucket-logs",
		Provider:         models.ProviderAWS,
		ServiceType:      "storage_bucket",
		Region:           "us-east-1",
		CostAmount:       decimal.RequireFromString("50"),
		Currency:         "USD",
		UsageQuantity:    decimal.RequireFromString("1000"),
		UsageUnit:        "GB-Month",
		PeriodStart:      time.Now().UTC().AddDate(0, -1, 0),
		PeriodEnd:        time.Now().UTC(),
		Attributes: map[string]interface{}{
			"entity_type":       "storage_bucket",
			"days_since_update": 400,
			"size_gb":           500,
		},
	}
	require.NoError(t, store.CreateCostRecord(ctx, costRecord))

	require.NoError(t, store.CreateBenchmark(ctx, &models.Benchmark{
		Name:           "aws storage us-east-1",
		ServiceType:    "storage_bucket",
		Provider:       models.ProviderAWS,
		Region:         "us-east-1",
		AvgCostPerUnit: decimal.RequireFromString("0.025"),
		MinCostPerUnit: decimal.RequireFromString("0.01"),
		MaxCostPerUnit: decimal.RequireFromString("0.05"),
		Unit:           "GB-Month",
		ValidFrom:      time.Now().UTC().AddDate(-1, 0, 0),
		IsActive:       true,
	}))

	result, err := p.Run(ctx)
	require.NoError(t, err)

	// metadata classified: old bucket with objects lands in archive
	assert.Equal(t, 1, result.Classification.Classified)

	assert.Equal(t, 1, result.CostRecords)
	require.Len(t, result.Comparisons, 1)
	// unit cost 0.05 vs avg 0.025 is high
	assert.Equal(t, cost.StatusHigh, result.Comparisons[0].Status)

	require.NotEmpty(t, result.Decisions)
	ruleIDs := make([]string, len(result.Decisions))
	for i, d := range result.Decisions {
		ruleIDs[i] = d.RuleID
	}
	assert.Contains(t, ruleIDs, "storage_old_unused")

	// unit cost is double the benchmark average
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "bucket-logs", result.Opportunities[0].ResourceID)
	assert.True(t, decimal.RequireFromString("25").Equal(result.Opportunities[0].PotentialSavings))
}

func TestRunIsIdempotentForDecisions(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCostRecord(ctx, &models.CostRecord{
		ResourceID:    "bucket-logs",
		Provider:      models.ProviderAWS,
		ServiceType:   "storage_bucket",
		CostAmount:    decimal.RequireFromString("50"),
		Currency:      "USD",
		UsageQuantity: decimal.RequireFromString("1000"),
		PeriodStart:   time.Now().UTC().AddDate(0, -1, 0),
		PeriodEnd:     time.Now().UTC(),
		Attributes: map[string]interface{}{
			"entity_type":       "storage_bucket",
			"days_since_update": 400,
			"size_gb":           500,
		},
	}))

	first, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, first.Decisions, 1)

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Decisions)
}

func TestRunCostSpikeRule(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	// unit cost 0.8 against a 0.025 average is a variance far past 50%
	require.NoError(t, store.CreateCostRecord(ctx, &models.CostRecord{
		ResourceID:    "db-analytics",
		Provider:      models.ProviderAWS,
		ServiceType:   "database",
		Region:        "us-east-1",
		CostAmount:    decimal.RequireFromString("800"),
		Currency:      "USD",
		UsageQuantity: decimal.RequireFromString("1000"),
		PeriodStart:   time.Now().UTC().AddDate(0, -1, 0),
		PeriodEnd:     time.Now().UTC(),
		Attributes:    map[string]interface{}{"entity_type": "database"},
	}))

	require.NoError(t, store.CreateBenchmark(ctx, &models.Benchmark{
		Name:           "aws database us-east-1",
		ServiceType:    "database",
		Provider:       models.ProviderAWS,
		Region:         "us-east-1",
		AvgCostPerUnit: decimal.RequireFromString("0.025"),
		MinCostPerUnit: decimal.RequireFromString("0.01"),
		MaxCostPerUnit: decimal.RequireFromString("0.05"),
		Unit:           "Hours",
		ValidFrom:      time.Now().UTC().AddDate(-1, 0, 0),
		IsActive:       true,
	}))

	result, err := p.Run(ctx)
	require.NoError(t, err)

	require.Len(t, result.Decisions, 1)
	assert.Equal(t, "cost_spike_detection", result.Decisions[0].RuleID)
	assert.Equal(t, models.ActionReview, result.Decisions[0].ActionType)
}
