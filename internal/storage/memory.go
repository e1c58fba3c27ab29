package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
)

// MemoryStore is an in-process implementation of every store interface,
// used by the CLI's default mode and by tests. All methods are safe for
// concurrent use.
type MemoryStore struct {
	mu              sync.RWMutex
	metadata        map[int64]*models.MetadataRecord
	classifications map[int64]*models.ClassificationResult // keyed by metadata record ID
	costs           map[int64]*models.CostRecord
	benchmarks      map[int64]*models.Benchmark
	decisions       map[int64]*models.Decision
	webhookLogs     []*models.WebhookLog

	nextMetadataID       int64
	nextClassificationID int64
	nextCostID           int64
	nextBenchmarkID      int64
	nextDecisionID       int64
	nextWebhookLogID     int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metadata:        make(map[int64]*models.MetadataRecord),
		classifications: make(map[int64]*models.ClassificationResult),
		costs:           make(map[int64]*models.CostRecord),
		benchmarks:      make(map[int64]*models.Benchmark),
		decisions:       make(map[int64]*models.Decision),
	}
}

// --- metadata ---

// CreateMetadataRecord stores a metadata record, assigning an ID if unset
func (s *MemoryStore) CreateMetadataRecord(ctx context.Context, record *models.MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == 0 {
		s.nextMetadataID++
		record.ID = s.nextMetadataID
	} else if record.ID > s.nextMetadataID {
		s.nextMetadataID = record.ID
	}
	s.metadata[record.ID] = record
	return nil
}

// GetMetadataRecord returns a metadata record by ID, nil when absent
func (s *MemoryStore) GetMetadataRecord(ctx context.Context, id int64) (*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[id], nil
}

// ListMetadataRecords returns all metadata records ordered by ID
func (s *MemoryStore) ListMetadataRecords(ctx context.Context) ([]*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MetadataRecord, 0, len(s.metadata))
	for _, r := range s.metadata {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListUnclassified returns metadata records without a classification result
func (s *MemoryStore) ListUnclassified(ctx context.Context, limit int) ([]*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MetadataRecord
	for _, r := range s.metadata {
		if _, ok := s.classifications[r.ID]; !ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- classification results ---

// GetByMetadataRecord returns the current classification for a record, nil when absent
func (s *MemoryStore) GetByMetadataRecord(ctx context.Context, metadataRecordID int64) (*models.ClassificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifications[metadataRecordID], nil
}

// Create stores a new classification result
func (s *MemoryStore) Create(ctx context.Context, result *models.ClassificationResult) (*models.ClassificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextClassificationID++
	result.ID = s.nextClassificationID
	s.classifications[result.MetadataRecordID] = result
	return result, nil
}

// Update replaces the stored classification result
func (s *MemoryStore) Update(ctx context.Context, result *models.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications[result.MetadataRecordID] = result
	return nil
}

// CountByCategory tallies current classifications per category
func (s *MemoryStore) CountByCategory(ctx context.Context) (map[models.ClassificationCategory]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ClassificationCategory]int)
	for _, r := range s.classifications {
		counts[r.Category]++
	}
	return counts, nil
}

// --- cost records ---

func (s *MemoryStore) CreateCostRecord(ctx context.Context, record *models.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == 0 {
		s.nextCostID++
		record.ID = s.nextCostID
	} else if record.ID > s.nextCostID {
		s.nextCostID = record.ID
	}
	s.costs[record.ID] = record
	return nil
}

func (s *MemoryStore) GetCostRecord(ctx context.Context, id int64) (*models.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.costs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) ListCostRecords(ctx context.Context, filter CostFilter) ([]*models.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CostRecord
	for _, r := range s.costs {
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		if filter.ServiceType != "" && r.ServiceType != filter.ServiceType {
			continue
		}
		if filter.Region != "" && r.Region != filter.Region {
			continue
		}
		if filter.PeriodStart != nil && !r.PeriodEnd.After(*filter.PeriodStart) {
			continue
		}
		if filter.PeriodEnd != nil && !r.PeriodStart.Before(*filter.PeriodEnd) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- benchmarks ---

func (s *MemoryStore) CreateBenchmark(ctx context.Context, benchmark *models.Benchmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if benchmark.ID == 0 {
		s.nextBenchmarkID++
		benchmark.ID = s.nextBenchmarkID
	} else if benchmark.ID > s.nextBenchmarkID {
		s.nextBenchmarkID = benchmark.ID
	}
	s.benchmarks[benchmark.ID] = benchmark
	return nil
}

func (s *MemoryStore) ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Benchmark, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindBest returns the most specific active benchmark valid at the given
// time, or nil when none match. Ties on specificity fall to the most
// recently updated benchmark.
func (s *MemoryStore) FindBest(
	ctx context.Context,
	serviceType string,
	provider models.CloudProvider,
	region string,
	ownerID *int64,
	at time.Time,
) (*models.Benchmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Benchmark
	for _, b := range s.benchmarks {
		if !b.IsActive || !b.ValidAt(at) {
			continue
		}
		if !strings.EqualFold(b.ServiceType, serviceType) || b.Provider != provider {
			continue
		}
		if b.Region != "" && b.Region != region {
			continue
		}
		if b.OwnerID != nil && (ownerID == nil || *b.OwnerID != *ownerID) {
			continue
		}
		if best == nil ||
			b.Specificity() > best.Specificity() ||
			(b.Specificity() == best.Specificity() && b.UpdatedAt.After(best.UpdatedAt)) {
			best = b
		}
	}
	return best, nil
}

// --- decisions ---

func (s *MemoryStore) CreateDecision(ctx context.Context, decision *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDecisionID++
	decision.ID = s.nextDecisionID
	s.decisions[decision.ID] = decision
	return nil
}

func (s *MemoryStore) GetDecisionByID(ctx context.Context, id int64) (*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decisions[id], nil
}

func (s *MemoryStore) UpdateDecision(ctx context.Context, decision *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decisions[decision.ID]; !ok {
		return ErrNotFound
	}
	s.decisions[decision.ID] = decision
	return nil
}

func (s *MemoryStore) ListDecisions(ctx context.Context, filter decisions.DecisionFilter) ([]*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Decision
	for _, d := range s.decisions {
		if filter.Status != "" && d.Status() != filter.Status {
			continue
		}
		if filter.ActionType != "" && d.ActionType != filter.ActionType {
			continue
		}
		if filter.RuleID != "" && d.RuleID != filter.RuleID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ExistsForRule(ctx context.Context, costRecordID int64, ruleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.decisions {
		if d.RuleID == ruleID && d.CostRecordID != nil && *d.CostRecordID == costRecordID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DecisionStatistics(ctx context.Context) (*decisions.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &decisions.Statistics{
		ByStatus:              make(map[string]int64),
		ByActionType:          make(map[string]int64),
		TotalEstimatedSavings: decimal.Zero,
	}

	for _, d := range s.decisions {
		stats.Total++
		status := d.Status()
		stats.ByStatus[status]++
		stats.ByActionType[string(d.ActionType)]++
		if status == "pending" {
			stats.PendingApproval++
		}
		if d.IsAutomated && d.ExecutedAt != nil {
			stats.AutomatedExecutions++
		}
		if d.EstimatedSavingsMonthly != nil && d.DismissedAt == nil {
			stats.TotalEstimatedSavings = stats.TotalEstimatedSavings.Add(*d.EstimatedSavingsMonthly)
		}
	}
	return stats, nil
}

// --- webhook logs ---

func (s *MemoryStore) CreateWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextWebhookLogID++
	log.ID = s.nextWebhookLogID
	s.webhookLogs = append(s.webhookLogs, log)
	return nil
}

func (s *MemoryStore) ListWebhookLogsByDecision(ctx context.Context, decisionID int64) ([]*models.WebhookLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.WebhookLog
	for _, l := range s.webhookLogs {
		if l.DecisionID == decisionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountWebhookLogs(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.webhookLogs)), nil
}

// PruneWebhookLogs deletes logs triggered before the cutoff and returns
// the number removed
func (s *MemoryStore) PruneWebhookLogs(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.webhookLogs[:0]
	var pruned int64
	for _, l := range s.webhookLogs {
		if l.TriggeredAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, l)
	}
	s.webhookLogs = kept
	return pruned, nil
}

// DecisionStore adapts the memory store to the decision service interface
type memoryDecisionStore struct{ *MemoryStore }

// DecisionStore returns a view implementing decisions.DecisionStore
func (s *MemoryStore) DecisionStore() decisions.DecisionStore {
	return memoryDecisionStore{s}
}

func (m memoryDecisionStore) Create(ctx context.Context, d *models.Decision) error {
	return m.CreateDecision(ctx, d)
}

func (m memoryDecisionStore) GetByID(ctx context.Context, id int64) (*models.Decision, error) {
	return m.GetDecisionByID(ctx, id)
}

func (m memoryDecisionStore) Update(ctx context.Context, d *models.Decision) error {
	return m.UpdateDecision(ctx, d)
}

func (m memoryDecisionStore) List(ctx context.Context, filter decisions.DecisionFilter) ([]*models.Decision, error) {
	return m.ListDecisions(ctx, filter)
}

func (m memoryDecisionStore) Statistics(ctx context.Context) (*decisions.Statistics, error) {
	return m.DecisionStatistics(ctx)
}

// WebhookLogStore returns a view implementing decisions.WebhookLogStore
func (s *MemoryStore) WebhookLogStore() decisions.WebhookLogStore {
	return memoryWebhookLogStore{s}
}

type memoryWebhookLogStore struct{ *MemoryStore }

func (m memoryWebhookLogStore) Create(ctx context.Context, log *models.WebhookLog) error {
	return m.CreateWebhookLog(ctx, log)
}

func (m memoryWebhookLogStore) ListByDecision(ctx context.Context, decisionID int64) ([]*models.WebhookLog, error) {
	return m.ListWebhookLogsByDecision(ctx, decisionID)
}

func (m memoryWebhookLogStore) Count(ctx context.Context) (int64, error) {
	return m.CountWebhookLogs(ctx)
}
