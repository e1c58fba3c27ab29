package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/catherinevee/costopt/internal/classification"
	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/pipeline"
)

// LogPruner deletes webhook logs older than a cutoff
type LogPruner interface {
	PruneWebhookLogs(ctx context.Context, before time.Time) (int64, error)
}

// DefaultLogRetention is how long webhook delivery logs are kept
const DefaultLogRetention = 90 * 24 * time.Hour

// WebhookRetryData identifies the decision to re-deliver
type WebhookRetryData struct {
	DecisionID int64 `json:"decision_id"`
}

// RetentionCleanupData configures a cleanup run; a zero retention uses
// the default
type RetentionCleanupData struct {
	Retention time.Duration `json:"retention"`
}

// ClassificationBatchData bounds a batch classification run; zero means
// classify everything unclassified
type ClassificationBatchData struct {
	Limit int `json:"limit"`
}

// Classifier runs batch classification
type Classifier interface {
	ClassifyBatch(ctx context.Context, limit int) (*classification.BatchSummary, error)
}

// Evaluator runs the full recommendation pipeline
type Evaluator interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// RegisterClassificationBatchHandler wires the classification_batch job type
func RegisterClassificationBatchHandler(q *Queue, svc Classifier) {
	q.RegisterHandler(ClassificationBatch, func(ctx context.Context, job *Job) error {
		limit := 0
		if data, ok := job.Data.(ClassificationBatchData); ok {
			limit = data.Limit
		}

		summary, err := svc.ClassifyBatch(ctx, limit)
		if err != nil {
			return err
		}
		job.Result = summary
		job.Message = summary.Message
		return nil
	})
}

// RegisterDecisionGenerationHandler wires the decision_generation job type
// to a full pipeline run
func RegisterDecisionGenerationHandler(q *Queue, p Evaluator) {
	q.RegisterHandler(DecisionGeneration, func(ctx context.Context, job *Job) error {
		result, err := p.Run(ctx)
		if err != nil {
			return err
		}
		job.Result = result
		job.Message = fmt.Sprintf("generated %d decisions", len(result.Decisions))
		return nil
	})
}

// RegisterWebhookRetryHandler wires the webhook_retry job type to the
// decision service. Failed decisions are re-delivered through the same
// bounded retry loop as the original attempt.
func RegisterWebhookRetryHandler(q *Queue, svc *decisions.Service) {
	q.RegisterHandler(WebhookRetry, func(ctx context.Context, job *Job) error {
		data, ok := job.Data.(WebhookRetryData)
		if !ok {
			return fmt.Errorf("webhook_retry job requires WebhookRetryData, got %T", job.Data)
		}

		decision, err := svc.Get(ctx, data.DecisionID)
		if err != nil {
			return err
		}
		if decision.WebhookStatus == models.WebhookDelivered {
			job.Message = "already delivered"
			return nil
		}

		logs, err := svc.DeliverWebhook(ctx, data.DecisionID)
		job.Result = len(logs)
		return err
	})
}

// RegisterRetentionCleanupHandler wires the retention_cleanup job type
// to the webhook log store
func RegisterRetentionCleanupHandler(q *Queue, pruner LogPruner) {
	q.RegisterHandler(RetentionCleanup, func(ctx context.Context, job *Job) error {
		retention := DefaultLogRetention
		if data, ok := job.Data.(RetentionCleanupData); ok && data.Retention > 0 {
			retention = data.Retention
		}

		pruned, err := pruner.PruneWebhookLogs(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			return err
		}
		job.Result = pruned
		job.Message = fmt.Sprintf("pruned %d webhook logs", pruned)
		return nil
	})
}
