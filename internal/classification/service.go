package classification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/metrics"
	"github.com/catherinevee/costopt/internal/models"
)

// Typed failures surfaced to callers
var (
	ErrRecordNotFound  = errors.New("metadata record not found")
	ErrInvalidCategory = errors.New("invalid classification category")
)

// MetadataStore supplies the resource metadata the pipeline classifies
type MetadataStore interface {
	GetMetadataRecord(ctx context.Context, id int64) (*models.MetadataRecord, error)
	ListUnclassified(ctx context.Context, limit int) ([]*models.MetadataRecord, error)
}

// ResultStore persists classification results, one current result per record
type ResultStore interface {
	GetByMetadataRecord(ctx context.Context, metadataRecordID int64) (*models.ClassificationResult, error)
	Create(ctx context.Context, result *models.ClassificationResult) (*models.ClassificationResult, error)
	Update(ctx context.Context, result *models.ClassificationResult) error
	CountByCategory(ctx context.Context) (map[models.ClassificationCategory]int, error)
}

// BatchSummary reports the outcome of a batch classification run.
// Per-record failures are isolated and counted, never propagated.
type BatchSummary struct {
	Processed  int    `json:"processed"`
	Classified int    `json:"classified"`
	Errors     int    `json:"errors"`
	Message    string `json:"message,omitempty"`
}

// Service orchestrates classification: engine evaluation plus the
// idempotent persistence rules around reclassification and manual overrides
type Service struct {
	engine   *Engine
	metadata MetadataStore
	results  ResultStore
	log      logger.Logger
	now      func() time.Time
}

// NewService creates a classification service
func NewService(engine *Engine, metadata MetadataStore, results ResultStore) *Service {
	return &Service{
		engine:   engine,
		metadata: metadata,
		results:  results,
		log:      logger.New("classification_service"),
		now:      time.Now,
	}
}

// GetResult returns the current classification for a metadata record,
// nil when the record has never been classified
func (s *Service) GetResult(ctx context.Context, metadataRecordID int64) (*models.ClassificationResult, error) {
	return s.results.GetByMetadataRecord(ctx, metadataRecordID)
}

// ClassifyRecord classifies a single metadata record. An existing
// non-manual result is updated in place and stamped with a
// reclassification time; a manual result is never overwritten unless
// force is set.
func (s *Service) ClassifyRecord(ctx context.Context, metadataRecordID int64, force bool) (*models.ClassificationResult, error) {
	record, err := s.metadata.GetMetadataRecord(ctx, metadataRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata record %d: %w", metadataRecordID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: id %d", ErrRecordNotFound, metadataRecordID)
	}

	existing, err := s.results.GetByMetadataRecord(ctx, metadataRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing classification: %w", err)
	}

	if existing != nil && existing.IsManual && !force {
		s.log.Debug("Skipping manually classified record",
			logger.Int64("metadata_record_id", metadataRecordID),
		)
		return existing, nil
	}

	outcome := s.engine.Classify(record)
	now := s.now().UTC()

	if existing != nil {
		existing.Category = outcome.Category
		existing.Confidence = outcome.Confidence
		existing.Method = outcome.Method
		existing.ModelVersion = outcome.ModelVersion
		existing.RulesApplied = outcome.RulesApplied
		existing.Explanation = outcome.Explanation
		existing.IsManual = false
		existing.ReclassifiedAt = &now

		if err := s.results.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update classification: %w", err)
		}
		metrics.ClassificationsTotal.WithLabelValues(string(existing.Category), string(existing.Method)).Inc()
		return existing, nil
	}

	result := &models.ClassificationResult{
		MetadataRecordID: metadataRecordID,
		Category:         outcome.Category,
		Confidence:       outcome.Confidence,
		Method:           outcome.Method,
		ModelVersion:     outcome.ModelVersion,
		RulesApplied:     outcome.RulesApplied,
		Explanation:      outcome.Explanation,
		ClassifiedAt:     now,
	}

	created, err := s.results.Create(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification: %w", err)
	}
	metrics.ClassificationsTotal.WithLabelValues(string(created.Category), string(created.Method)).Inc()
	return created, nil
}

// ClassifyBatch classifies up to limit unclassified records. One record
// failing does not abort the batch; the summary carries the error count.
func (s *Service) ClassifyBatch(ctx context.Context, limit int) (*BatchSummary, error) {
	records, err := s.metadata.ListUnclassified(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified records: %w", err)
	}

	if len(records) == 0 {
		return &BatchSummary{Message: "No unclassified records found"}, nil
	}

	summary := &BatchSummary{Processed: len(records)}
	for _, record := range records {
		if _, err := s.ClassifyRecord(ctx, record.ID, false); err != nil {
			summary.Errors++
			s.log.Warn("Failed to classify record",
				logger.Int64("metadata_record_id", record.ID),
				logger.Error(err),
			)
			continue
		}
		summary.Classified++
	}

	s.log.Info("Classification batch completed",
		logger.Int("processed", summary.Processed),
		logger.Int("classified", summary.Classified),
		logger.Int("errors", summary.Errors),
	)

	return summary, nil
}

// SetManualClassification overrides a record's classification. Manual
// classifications always carry confidence 1.0 and survive automatic runs.
func (s *Service) SetManualClassification(
	ctx context.Context,
	metadataRecordID int64,
	category models.ClassificationCategory,
	by, reason string,
) (*models.ClassificationResult, error) {
	switch category {
	case models.CategorySensitive, models.CategoryInternal, models.CategoryPublic,
		models.CategoryArchive, models.CategoryUnknown:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	record, err := s.metadata.GetMetadataRecord(ctx, metadataRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata record %d: %w", metadataRecordID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: id %d", ErrRecordNotFound, metadataRecordID)
	}

	existing, err := s.results.GetByMetadataRecord(ctx, metadataRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing classification: %w", err)
	}

	now := s.now().UTC()
	result := existing
	if result == nil {
		result = &models.ClassificationResult{
			MetadataRecordID: metadataRecordID,
			ClassifiedAt:     now,
		}
	}

	result.Category = category
	result.Confidence = 1.0
	result.Method = models.MethodManual
	result.RulesApplied = nil
	result.Explanation = reason
	result.IsManual = true
	result.ManualCategory = category
	result.ManualBy = by
	result.ManualAt = &now
	result.ManualReason = reason

	if existing != nil {
		if err := s.results.Update(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to update classification: %w", err)
		}
		metrics.ClassificationsTotal.WithLabelValues(string(category), string(models.MethodManual)).Inc()
		return result, nil
	}

	created, err := s.results.Create(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification: %w", err)
	}
	metrics.ClassificationsTotal.WithLabelValues(string(category), string(models.MethodManual)).Inc()
	return created, nil
}

// Statistics returns classification counts by category
func (s *Service) Statistics(ctx context.Context) (map[models.ClassificationCategory]int, error) {
	counts, err := s.results.CountByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count classifications: %w", err)
	}
	return counts, nil
}
