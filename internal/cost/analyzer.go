package cost

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/models"
)

// ComparisonStatus represents how an observed unit cost stands against a benchmark
type ComparisonStatus string

const (
	StatusOptimal      ComparisonStatus = "optimal"
	StatusAboveAverage ComparisonStatus = "above_average"
	StatusHigh         ComparisonStatus = "high"
	StatusNoBenchmark  ComparisonStatus = "no_benchmark"
)

// AnomalySeverity bands for flagged cost outliers
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Granularity represents the bucketing period for trend calculation
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// DefaultAnomalyThresholdPct is the default percentage above the peer-group
// mean at which an observation is flagged as anomalous.
var DefaultAnomalyThresholdPct = decimal.NewFromInt(50)

// aboveAverageCeiling bounds the above_average band at avg * 1.2, inclusive
var aboveAverageCeiling = decimal.NewFromFloat(1.2)

// BenchmarkComparison represents the result of comparing a cost record
// against a benchmark. Numeric fields are nil when no usable benchmark exists.
type BenchmarkComparison struct {
	Status           ComparisonStatus `json:"comparison_status"`
	VariancePct      *decimal.Decimal `json:"variance_pct,omitempty"`
	PotentialSavings *decimal.Decimal `json:"potential_savings,omitempty"`
	BenchmarkAvg     *decimal.Decimal `json:"benchmark_avg,omitempty"`
	BenchmarkMin     *decimal.Decimal `json:"benchmark_min,omitempty"`
	BenchmarkMax     *decimal.Decimal `json:"benchmark_max,omitempty"`
}

// Anomaly represents a cost observation flagged as a statistical outlier
// within its service-type peer group
type Anomaly struct {
	ResourceID   string          `json:"resource_id"`
	ServiceType  string          `json:"service_type"`
	DetectedAt   time.Time       `json:"detected_at"`
	ExpectedCost decimal.Decimal `json:"expected_cost"`
	ActualCost   decimal.Decimal `json:"actual_cost"`
	VariancePct  decimal.Decimal `json:"variance_pct"`
	Severity     string          `json:"severity"` // low, medium, high
}

// TrendPoint represents aggregated costs for one calendar period
type TrendPoint struct {
	Period      string                     `json:"period"`
	TotalCost   decimal.Decimal            `json:"total_cost"`
	RecordCount int                        `json:"record_count"`
	ByProvider  map[string]decimal.Decimal `json:"by_provider"`
	ByService   map[string]decimal.Decimal `json:"by_service"`
}

// SavingsOpportunity represents a cost record whose unit cost exceeds its
// benchmark average, with an actionable recommendation
type SavingsOpportunity struct {
	ResourceID         string          `json:"resource_id"`
	ServiceType        string          `json:"service_type"`
	CurrentMonthlyCost decimal.Decimal `json:"current_monthly_cost"`
	PotentialSavings   decimal.Decimal `json:"potential_savings"`
	SavingsPct         decimal.Decimal `json:"savings_pct"`
	Recommendation     string          `json:"recommendation"`
}

// Analyzer analyzes cost records against benchmarks and peer groups.
// All methods are stateless and safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates a new cost analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// UnitCost returns amount/quantity using exact decimal arithmetic.
// A zero or negative quantity yields an explicit zero, not an error.
func (a *Analyzer) UnitCost(amount, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsPositive() {
		return amount.Div(quantity)
	}
	return decimal.Zero
}

// CompareToBenchmark compares a cost record against a benchmark.
// A nil benchmark, or one with a missing/non-positive average, yields
// StatusNoBenchmark with all numeric fields absent.
func (a *Analyzer) CompareToBenchmark(record *models.CostRecord, benchmark *models.Benchmark) BenchmarkComparison {
	if benchmark == nil || !benchmark.AvgCostPerUnit.IsPositive() {
		return BenchmarkComparison{Status: StatusNoBenchmark}
	}

	unitCost := a.UnitCost(record.CostAmount, record.UsageQuantity)
	avg := benchmark.AvgCostPerUnit

	variancePct := unitCost.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))

	var potentialSavings *decimal.Decimal
	if unitCost.GreaterThan(avg) {
		savings := unitCost.Sub(avg).Mul(record.UsageQuantity)
		potentialSavings = &savings
	}

	var status ComparisonStatus
	switch {
	case unitCost.LessThanOrEqual(avg):
		status = StatusOptimal
	case unitCost.LessThanOrEqual(avg.Mul(aboveAverageCeiling)):
		status = StatusAboveAverage
	default:
		status = StatusHigh
	}

	minCost := benchmark.MinCostPerUnit
	maxCost := benchmark.MaxCostPerUnit

	return BenchmarkComparison{
		Status:           status,
		VariancePct:      &variancePct,
		PotentialSavings: potentialSavings,
		BenchmarkAvg:     &avg,
		BenchmarkMin:     &minCost,
		BenchmarkMax:     &maxCost,
	}
}

// DetectAnomalies flags cost records whose unit cost exceeds their
// service-type peer group mean by more than thresholdPct percent.
// Groups with fewer than two records produce no anomalies: a single
// observation has no peer baseline.
func (a *Analyzer) DetectAnomalies(records []*models.CostRecord, thresholdPct decimal.Decimal) []Anomaly {
	if len(records) == 0 {
		return nil
	}

	if !thresholdPct.IsPositive() {
		thresholdPct = DefaultAnomalyThresholdPct
	}

	byService := make(map[string][]*models.CostRecord)
	for _, r := range records {
		byService[r.ServiceType] = append(byService[r.ServiceType], r)
	}

	hundred := decimal.NewFromInt(100)
	multiplier := decimal.NewFromInt(1).Add(thresholdPct.Div(hundred))

	var anomalies []Anomaly
	for service, group := range byService {
		if len(group) < 2 {
			continue
		}

		total := decimal.Zero
		for _, r := range group {
			total = total.Add(a.UnitCost(r.CostAmount, r.UsageQuantity))
		}
		mean := total.Div(decimal.NewFromInt(int64(len(group))))
		if mean.IsZero() {
			continue
		}

		for _, r := range group {
			unitCost := a.UnitCost(r.CostAmount, r.UsageQuantity)
			if !unitCost.GreaterThan(mean.Mul(multiplier)) {
				continue
			}

			variancePct := unitCost.Sub(mean).Div(mean).Mul(hundred)
			anomalies = append(anomalies, Anomaly{
				ResourceID:   r.ResourceID,
				ServiceType:  service,
				DetectedAt:   time.Now().UTC(),
				ExpectedCost: mean.Mul(r.UsageQuantity),
				ActualCost:   r.CostAmount,
				VariancePct:  variancePct,
				Severity:     anomalySeverity(variancePct),
			})
		}
	}

	return anomalies
}

// anomalySeverity bands variance from the group mean. Only records past the
// detection threshold are scored, so low is reachable only between the
// threshold and 75%.
func anomalySeverity(variancePct decimal.Decimal) string {
	switch {
	case variancePct.GreaterThan(decimal.NewFromInt(100)):
		return SeverityHigh
	case variancePct.GreaterThan(decimal.NewFromInt(75)):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CalculateTrends buckets cost records by calendar period derived from
// period_start and returns per-bucket totals sorted ascending by period key
func (a *Analyzer) CalculateTrends(records []*models.CostRecord, granularity Granularity) []TrendPoint {
	if len(records) == 0 {
		return nil
	}

	buckets := make(map[string][]*models.CostRecord)
	for _, r := range records {
		key := periodKey(r.PeriodStart, granularity)
		buckets[key] = append(buckets[key], r)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	trends := make([]TrendPoint, 0, len(keys))
	for _, key := range keys {
		group := buckets[key]

		point := TrendPoint{
			Period:      key,
			TotalCost:   decimal.Zero,
			RecordCount: len(group),
			ByProvider:  make(map[string]decimal.Decimal),
			ByService:   make(map[string]decimal.Decimal),
		}

		for _, r := range group {
			point.TotalCost = point.TotalCost.Add(r.CostAmount)
			provider := string(r.Provider)
			point.ByProvider[provider] = point.ByProvider[provider].Add(r.CostAmount)
			point.ByService[r.ServiceType] = point.ByService[r.ServiceType].Add(r.CostAmount)
		}

		trends = append(trends, point)
	}

	return trends
}

// periodKey derives the bucket key for a timestamp: day, ISO week, or month
func periodKey(t time.Time, granularity Granularity) string {
	switch granularity {
	case GranularityDaily:
		return t.Format("2006-01-02")
	case GranularityWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return t.Format("2006-01")
	}
}

// FindSavingsOpportunities resolves each record's benchmark by exact
// (service type, provider, region) lookup and emits an opportunity for
// every record with positive potential savings, sorted by savings descending
func (a *Analyzer) FindSavingsOpportunities(records []*models.CostRecord, benchmarks []*models.Benchmark) []SavingsOpportunity {
	type benchmarkKey struct {
		serviceType string
		provider    models.CloudProvider
		region      string
	}

	lookup := make(map[benchmarkKey]*models.Benchmark, len(benchmarks))
	for _, b := range benchmarks {
		lookup[benchmarkKey{b.ServiceType, b.Provider, b.Region}] = b
	}

	var opportunities []SavingsOpportunity
	for _, r := range records {
		benchmark := lookup[benchmarkKey{r.ServiceType, r.Provider, r.Region}]
		if benchmark == nil {
			continue
		}

		comparison := a.CompareToBenchmark(r, benchmark)
		if comparison.PotentialSavings == nil || !comparison.PotentialSavings.IsPositive() {
			continue
		}

		opportunities = append(opportunities, SavingsOpportunity{
			ResourceID:         r.ResourceID,
			ServiceType:        r.ServiceType,
			CurrentMonthlyCost: r.CostAmount,
			PotentialSavings:   *comparison.PotentialSavings,
			SavingsPct:         *comparison.VariancePct,
			Recommendation:     recommendationFor(r.ServiceType, comparison.Status),
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].PotentialSavings.GreaterThan(opportunities[j].PotentialSavings)
	})

	return opportunities
}

// recommendationFor returns the templated recommendation for a
// (service type, comparison status) pair
func recommendationFor(serviceType string, status ComparisonStatus) string {
	recommendations := map[string]map[ComparisonStatus]string{
		"compute_instance": {
			StatusHigh:         "Consider downsizing instance or using reserved instances",
			StatusAboveAverage: "Review utilization patterns for optimization",
		},
		"storage_bucket": {
			StatusHigh:         "Move infrequently accessed data to cheaper storage tier",
			StatusAboveAverage: "Review storage lifecycle policies",
		},
		"database": {
			StatusHigh:         "Consider reserved capacity or smaller instance class",
			StatusAboveAverage: "Review database utilization and indexing",
		},
	}

	if byStatus, ok := recommendations[serviceType]; ok {
		if rec, ok := byStatus[status]; ok {
			return rec
		}
	}
	return "Review resource for optimization opportunities"
}
