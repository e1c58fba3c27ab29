package decisions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/metrics"
	"github.com/catherinevee/costopt/internal/models"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrApproveDismissed = errors.New("cannot approve a dismissed decision")
	ErrApproveExecuted  = errors.New("cannot approve an executed decision")
	ErrDismissExecuted  = errors.New("cannot dismiss an executed decision")
	ErrNotApproved      = errors.New("decision has not been approved")
	ErrNoWebhookURL     = errors.New("no webhook URL configured for this decision")
)

// DecisionStore persists decisions
type DecisionStore interface {
	Create(ctx context.Context, decision *models.Decision) error
	GetByID(ctx context.Context, id int64) (*models.Decision, error)
	Update(ctx context.Context, decision *models.Decision) error
	List(ctx context.Context, filter DecisionFilter) ([]*models.Decision, error)
	ExistsForRule(ctx context.Context, costRecordID int64, ruleID string) (bool, error)
	Statistics(ctx context.Context) (*Statistics, error)
}

// WebhookLogStore persists per-attempt delivery logs
type WebhookLogStore interface {
	Create(ctx context.Context, log *models.WebhookLog) error
	ListByDecision(ctx context.Context, decisionID int64) ([]*models.WebhookLog, error)
	Count(ctx context.Context) (int64, error)
}

// Deliverer sends the recommendation payload to a decision's webhook URL,
// appending one log entry per attempt and mutating the decision's
// delivery bookkeeping fields.
type Deliverer interface {
	DeliverWithRetry(ctx context.Context, decision *models.Decision) ([]*models.WebhookLog, error)
	GenerateSecret() (string, error)
}

// DecisionFilter narrows List results
type DecisionFilter struct {
	Status     string
	ActionType models.DecisionAction
	RuleID     string
	Limit      int
	Offset     int
}

// Statistics summarizes the decision table
type Statistics struct {
	Total                 int64            `json:"total_decisions"`
	ByStatus              map[string]int64 `json:"by_status"`
	ByActionType          map[string]int64 `json:"by_action_type"`
	PendingApproval       int64            `json:"pending_approval"`
	TotalEstimatedSavings decimal.Decimal  `json:"total_estimated_savings"`
	AutomatedExecutions   int64            `json:"automated_executions"`
	WebhookDeliveries     int64            `json:"webhook_deliveries"`
}

// CreateRequest carries the fields of a manually created decision
type CreateRequest struct {
	CostRecordID             *int64
	Recommendation           string
	ActionType               models.DecisionAction
	Confidence               float64
	EstimatedSavingsMonthly  *decimal.Decimal
	EstimatedCostToImplement *decimal.Decimal
	IsAutomated              bool
	WebhookURL               string
}

// Service coordinates decision generation, lifecycle transitions, and
// webhook delivery.
type Service struct {
	engine    *Engine
	store     DecisionStore
	logs      WebhookLogStore
	deliverer Deliverer
	log       logger.Logger
	now       func() time.Time
}

// NewService creates a decision service
func NewService(engine *Engine, store DecisionStore, logs WebhookLogStore, deliverer Deliverer) *Service {
	return &Service{
		engine:    engine,
		store:     store,
		logs:      logs,
		deliverer: deliverer,
		log:       logger.New("decision-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateFromCostRecord evaluates the rule table against a cost record and
// persists one decision per matched rule. A (cost record, rule) pair that
// already has a decision is skipped so repeated runs stay idempotent.
func (s *Service) GenerateFromCostRecord(
	ctx context.Context,
	record *models.CostRecord,
	classification *models.ClassificationResult,
	comparison *cost.BenchmarkComparison,
) ([]*models.Decision, error) {
	matches := s.engine.EvaluateWithComparison(record, classification, comparison)

	var created []*models.Decision
	for _, match := range matches {
		exists, err := s.store.ExistsForRule(ctx, record.ID, match.RuleID)
		if err != nil {
			return created, fmt.Errorf("failed to check existing decisions: %w", err)
		}
		if exists {
			s.log.Debug("skipping duplicate decision",
				logger.Int64("cost_record_id", record.ID),
				logger.String("rule_id", match.RuleID))
			continue
		}

		savings := match.EstimatedSavingsMonthly
		implement := match.EstimatedCostToImplement
		decision := &models.Decision{
			CostRecordID:             &record.ID,
			Recommendation:           match.Recommendation,
			ActionType:               match.Action,
			Confidence:               match.Confidence,
			EstimatedSavingsMonthly:  &savings,
			EstimatedCostToImplement: &implement,
			Currency:                 record.Currency,
			RuleID:                   match.RuleID,
			RuleExplanation:          fmt.Sprintf("Matched rule: %s", match.RuleName),
			IsAutomated:              match.AutoExecute,
			WebhookStatus:            models.WebhookPending,
			Context:                  match.Context,
			CreatedAt:                s.now(),
			UpdatedAt:                s.now(),
		}

		if err := s.store.Create(ctx, decision); err != nil {
			return created, fmt.Errorf("failed to create decision: %w", err)
		}

		metrics.DecisionsGenerated.WithLabelValues(string(match.Action)).Inc()
		created = append(created, decision)
	}

	return created, nil
}

// CreateManual creates a decision outside the rule engine. A webhook
// secret is generated whenever a webhook URL is set.
func (s *Service) CreateManual(ctx context.Context, req CreateRequest) (*models.Decision, error) {
	decision := &models.Decision{
		CostRecordID:             req.CostRecordID,
		Recommendation:           req.Recommendation,
		ActionType:               req.ActionType,
		Confidence:               req.Confidence,
		EstimatedSavingsMonthly:  req.EstimatedSavingsMonthly,
		EstimatedCostToImplement: req.EstimatedCostToImplement,
		IsAutomated:              req.IsAutomated,
		WebhookURL:               req.WebhookURL,
		WebhookStatus:            models.WebhookPending,
		CreatedAt:                s.now(),
		UpdatedAt:                s.now(),
	}

	if decision.WebhookURL != "" {
		secret, err := s.deliverer.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
		}
		decision.WebhookSecret = secret
	}

	if err := s.store.Create(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to create decision: %w", err)
	}

	metrics.DecisionsGenerated.WithLabelValues(string(decision.ActionType)).Inc()
	return decision, nil
}

// Get returns a decision by ID
func (s *Service) Get(ctx context.Context, id int64) (*models.Decision, error) {
	decision, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, ErrDecisionNotFound
	}
	return decision, nil
}

// List returns decisions matching the filter
func (s *Service) List(ctx context.Context, filter DecisionFilter) ([]*models.Decision, error) {
	return s.store.List(ctx, filter)
}

// Approve marks a decision approved and triggers webhook delivery when a
// webhook URL is configured. Dismissed and executed decisions cannot be
// approved.
func (s *Service) Approve(ctx context.Context, id int64, approvedBy, webhookURL string) (*models.Decision, error) {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if decision.DismissedAt != nil {
		return nil, ErrApproveDismissed
	}
	if decision.ExecutedAt != nil {
		return nil, ErrApproveExecuted
	}

	now := s.now()
	decision.ApprovedAt = &now
	decision.ApprovedBy = approvedBy
	decision.UpdatedAt = now

	if webhookURL != "" {
		decision.WebhookURL = webhookURL
	}
	if decision.WebhookURL != "" && decision.WebhookSecret == "" {
		secret, err := s.deliverer.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
		}
		decision.WebhookSecret = secret
	}

	if err := s.store.Update(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to update decision: %w", err)
	}

	if decision.WebhookURL != "" {
		if _, err := s.DeliverWebhook(ctx, decision.ID); err != nil && !errors.Is(err, ErrNoWebhookURL) {
			// Delivery failures are recorded on the decision itself;
			// approval still stands.
			s.log.Warn("webhook delivery failed after approval",
				logger.Int64("decision_id", decision.ID),
				logger.Error(err))
		}
	}

	return decision, nil
}

// Dismiss marks a decision dismissed. Executed decisions cannot be
// dismissed.
func (s *Service) Dismiss(ctx context.Context, id int64, dismissedBy, reason string) (*models.Decision, error) {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if decision.ExecutedAt != nil {
		return nil, ErrDismissExecuted
	}

	now := s.now()
	decision.DismissedAt = &now
	decision.DismissedBy = dismissedBy
	decision.DismissReason = reason
	decision.UpdatedAt = now

	if err := s.store.Update(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to update decision: %w", err)
	}

	return decision, nil
}

// MarkExecuted records that an approved decision's action was carried out
func (s *Service) MarkExecuted(ctx context.Context, id int64, result string) (*models.Decision, error) {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if decision.ApprovedAt == nil || decision.DismissedAt != nil {
		return nil, ErrNotApproved
	}

	now := s.now()
	decision.ExecutedAt = &now
	decision.ExecutionResult = result
	decision.UpdatedAt = now

	if err := s.store.Update(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to update decision: %w", err)
	}

	return decision, nil
}

// DeliverWebhook runs the bounded retry loop for a decision, persisting one
// log entry per attempt and the decision's final delivery state.
func (s *Service) DeliverWebhook(ctx context.Context, id int64) ([]*models.WebhookLog, error) {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if decision.WebhookURL == "" {
		return nil, ErrNoWebhookURL
	}

	attempts, deliverErr := s.deliverer.DeliverWithRetry(ctx, decision)

	for _, attempt := range attempts {
		if err := s.logs.Create(ctx, attempt); err != nil {
			s.log.Error("failed to persist webhook log",
				logger.Int64("decision_id", decision.ID),
				logger.Error(err))
		}
	}

	decision.UpdatedAt = s.now()
	if err := s.store.Update(ctx, decision); err != nil {
		return attempts, fmt.Errorf("failed to update decision: %w", err)
	}

	return attempts, deliverErr
}

// WebhookLogs returns the delivery history for a decision
func (s *Service) WebhookLogs(ctx context.Context, id int64) ([]*models.WebhookLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByDecision(ctx, id)
}

// GetStatistics aggregates decision and webhook delivery counts
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute decision statistics: %w", err)
	}

	deliveries, err := s.logs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook deliveries: %w", err)
	}
	stats.WebhookDeliveries = deliveries

	return stats, nil
}
