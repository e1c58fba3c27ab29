package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/costopt/internal/classification"
	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/pipeline"
	"github.com/catherinevee/costopt/internal/storage"
)

type fakeClassifier struct {
	limit   int
	summary *classification.BatchSummary
	err     error
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, limit int) (*classification.BatchSummary, error) {
	f.limit = limit
	return f.summary, f.err
}

type fakeEvaluator struct {
	result *pipeline.Result
	err    error
}

func (f *fakeEvaluator) Run(ctx context.Context) (*pipeline.Result, error) {
	return f.result, f.err
}

type fakePruner struct {
	before time.Time
	pruned int64
	err    error
}

func (f *fakePruner) PruneWebhookLogs(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.pruned, f.err
}

type stubDeliverer struct {
	delivered []int64
	err       error
}

func (s *stubDeliverer) DeliverWithRetry(ctx context.Context, d *models.Decision) ([]*models.WebhookLog, error) {
	s.delivered = append(s.delivered, d.ID)
	if s.err != nil {
		d.WebhookStatus = models.WebhookFailed
		return []*models.WebhookLog{{DecisionID: d.ID, AttemptNumber: 1, Status: "failure"}}, s.err
	}
	d.WebhookStatus = models.WebhookDelivered
	return []*models.WebhookLog{{DecisionID: d.ID, AttemptNumber: 1, Status: "success"}}, nil
}

func (s *stubDeliverer) GenerateSecret() (string, error) { return "test-secret", nil }

func newRetryService(t *testing.T, deliverer decisions.Deliverer) (*decisions.Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := decisions.NewService(
		decisions.NewEngine(), store.DecisionStore(), store.WebhookLogStore(), deliverer)
	return svc, store
}

func TestClassificationBatchHandler(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	classifier := &fakeClassifier{
		summary: &classification.BatchSummary{Processed: 5, Classified: 5},
	}
	RegisterClassificationBatchHandler(q, classifier)

	job := &Job{Type: ClassificationBatch, Data: ClassificationBatchData{Limit: 50}}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, 50, classifier.limit)
	assert.Equal(t, classifier.summary, done.Result)
}

func TestDecisionGenerationHandler(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	RegisterDecisionGenerationHandler(q, &fakeEvaluator{result: &pipeline.Result{CostRecords: 3}})

	job := &Job{Type: DecisionGeneration}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, "generated 0 decisions", done.Message)
}

func TestDecisionGenerationHandlerRetriesOnError(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	RegisterDecisionGenerationHandler(q, &fakeEvaluator{err: errors.New("store unavailable")})

	job := &Job{Type: DecisionGeneration, MaxRetries: 2}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusFailed)
	assert.Equal(t, "store unavailable", done.LastError)
}

func TestWebhookRetryHandler(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	deliverer := &stubDeliverer{}
	svc, store := newRetryService(t, deliverer)
	RegisterWebhookRetryHandler(q, svc)

	ctx := context.Background()
	decision := &models.Decision{
		Recommendation: "Delete unused bucket",
		ActionType:     models.ActionDelete,
		Confidence:     0.9,
		Currency:       "USD",
		WebhookURL:     "https://hooks.example.com/costopt",
		WebhookSecret:  "s3cret",
		WebhookStatus:  models.WebhookFailed,
	}
	require.NoError(t, store.DecisionStore().Create(ctx, decision))

	job := &Job{Type: WebhookRetry, Data: WebhookRetryData{DecisionID: decision.ID}}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, 1, done.Result)
	assert.Equal(t, []int64{decision.ID}, deliverer.delivered)

	stored, err := svc.Get(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookDelivered, stored.WebhookStatus)
}

func TestWebhookRetryHandlerSkipsDelivered(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	deliverer := &stubDeliverer{}
	svc, store := newRetryService(t, deliverer)
	RegisterWebhookRetryHandler(q, svc)

	ctx := context.Background()
	decision := &models.Decision{
		Recommendation: "Archive cold data",
		ActionType:     models.ActionArchive,
		Confidence:     0.8,
		Currency:       "USD",
		WebhookURL:     "https://hooks.example.com/costopt",
		WebhookStatus:  models.WebhookDelivered,
	}
	require.NoError(t, store.DecisionStore().Create(ctx, decision))

	job := &Job{Type: WebhookRetry, Data: WebhookRetryData{DecisionID: decision.ID}}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, "already delivered", done.Message)
	assert.Empty(t, deliverer.delivered)
}

func TestWebhookRetryHandlerRejectsWrongData(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	svc, _ := newRetryService(t, &stubDeliverer{})
	RegisterWebhookRetryHandler(q, svc)

	job := &Job{Type: WebhookRetry, Data: "bogus", MaxRetries: 1}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusFailed)
	assert.Contains(t, done.LastError, "webhook_retry job requires WebhookRetryData")
}

func TestRetentionCleanupHandler(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	pruner := &fakePruner{pruned: 12}
	RegisterRetentionCleanupHandler(q, pruner)

	job := &Job{Type: RetentionCleanup, Data: RetentionCleanupData{Retention: 24 * time.Hour}}
	require.NoError(t, q.Enqueue(job))

	done := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, int64(12), done.Result)
	assert.Equal(t, "pruned 12 webhook logs", done.Message)
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), pruner.before, 5*time.Second)
}

func TestRetentionCleanupHandlerDefaultRetention(t *testing.T) {
	q := NewQueue(1, WithRetryDelay(10*time.Millisecond))
	defer shutdownQueue(t, q)

	pruner := &fakePruner{}
	RegisterRetentionCleanupHandler(q, pruner)

	job := &Job{Type: RetentionCleanup}
	require.NoError(t, q.Enqueue(job))

	waitForStatus(t, q, job.ID, StatusCompleted)
	assert.WithinDuration(t, time.Now().UTC().Add(-DefaultLogRetention), pruner.before, 5*time.Second)
}
