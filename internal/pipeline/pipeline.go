package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/classification"
	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/metrics"
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/storage"
)

// Pipeline runs the full recommendation flow: classify metadata records,
// analyze cost records against benchmarks, and generate decisions for
// every matched rule.
type Pipeline struct {
	classifier *classification.Service
	analyzer   *cost.Analyzer
	decisions  *decisions.Service
	costs      storage.CostStore
	benchmarks storage.BenchmarkStore
	threshold  decimal.Decimal
	log        logger.Logger
	now        func() time.Time
}

// Result summarizes one pipeline run
type Result struct {
	Classification classification.BatchSummary `json:"classification"`
	CostRecords    int                         `json:"cost_records"`
	Comparisons    []cost.BenchmarkComparison  `json:"comparisons"`
	Anomalies      []cost.Anomaly              `json:"anomalies"`
	Opportunities  []cost.SavingsOpportunity   `json:"opportunities"`
	Decisions      []*models.Decision          `json:"decisions"`
}

// New creates a pipeline
func New(
	classifier *classification.Service,
	analyzer *cost.Analyzer,
	decisionSvc *decisions.Service,
	costs storage.CostStore,
	benchmarks storage.BenchmarkStore,
) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		analyzer:   analyzer,
		decisions:  decisionSvc,
		costs:      costs,
		benchmarks: benchmarks,
		log:        logger.New("pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetAnomalyThreshold overrides the analyzer's default anomaly variance
// threshold. A non-positive value keeps the default.
func (p *Pipeline) SetAnomalyThreshold(thresholdPct decimal.Decimal) {
	p.threshold = thresholdPct
}

// Run executes classify, analyze, and decide over everything in the stores.
// Per-record failures are logged and skipped; the run continues.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	summary, err := p.classifier.ClassifyBatch(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to classify metadata records: %w", err)
	}
	result.Classification = *summary

	records, err := p.costs.ListCostRecords(ctx, storage.CostFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	result.CostRecords = len(records)

	for _, record := range records {
		comparison, err := p.compare(ctx, record)
		if err != nil {
			p.log.Warn("benchmark comparison failed",
				logger.Int64("cost_record_id", record.ID),
				logger.Error(err))
			comparison = nil
		} else {
			result.Comparisons = append(result.Comparisons, *comparison)
		}

		classificationResult, err := p.classificationFor(ctx, record)
		if err != nil {
			p.log.Warn("classification lookup failed",
				logger.Int64("cost_record_id", record.ID),
				logger.Error(err))
		}

		generated, err := p.decisions.GenerateFromCostRecord(ctx, record, classificationResult, comparison)
		if err != nil {
			p.log.Error("decision generation failed",
				logger.Int64("cost_record_id", record.ID),
				logger.Error(err))
			continue
		}
		result.Decisions = append(result.Decisions, generated...)
	}

	benchmarks, err := p.benchmarks.ListBenchmarks(ctx)
	if err != nil {
		p.log.Warn("benchmark listing failed", logger.Error(err))
	}

	result.Anomalies = p.analyzer.DetectAnomalies(records, p.threshold)
	for _, anomaly := range result.Anomalies {
		metrics.AnomaliesDetected.WithLabelValues(anomaly.Severity).Inc()
	}
	result.Opportunities = p.analyzer.FindSavingsOpportunities(records, benchmarks)

	p.log.Info("pipeline run complete",
		logger.Int("cost_records", result.CostRecords),
		logger.Int("decisions", len(result.Decisions)),
		logger.Int("anomalies", len(result.Anomalies)),
		logger.Int("opportunities", len(result.Opportunities)))

	return result, nil
}

// compare resolves the best benchmark for a record and compares its unit cost
func (p *Pipeline) compare(ctx context.Context, record *models.CostRecord) (*cost.BenchmarkComparison, error) {
	benchmark, err := p.benchmarks.FindBest(
		ctx, record.ServiceType, record.Provider, record.Region, nil, p.now())
	if err != nil {
		return nil, err
	}

	comparison := p.analyzer.CompareToBenchmark(record, benchmark)
	return &comparison, nil
}

// classificationFor returns the classification linked to the record's
// metadata, nil when the record has none
func (p *Pipeline) classificationFor(ctx context.Context, record *models.CostRecord) (*models.ClassificationResult, error) {
	if record.MetadataRecordID == nil {
		return nil, nil
	}
	return p.classifier.GetResult(ctx, *record.MetadataRecordID)
}
