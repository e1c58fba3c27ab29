package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClassificationCategory represents the sensitivity/lifecycle category assigned to a resource
type ClassificationCategory string

const (
	CategorySensitive ClassificationCategory = "sensitive"
	CategoryInternal  ClassificationCategory = "internal"
	CategoryPublic    ClassificationCategory = "public"
	CategoryArchive   ClassificationCategory = "archive"
	CategoryUnknown   ClassificationCategory = "unknown"
)

// ClassificationMethod represents how a classification was produced
type ClassificationMethod string

const (
	MethodRuleBased ClassificationMethod = "rule_based"
	MethodManual    ClassificationMethod = "manual"
)

// CloudProvider represents a supported cloud provider
type CloudProvider string

const (
	ProviderAWS   CloudProvider = "aws"
	ProviderGCP   CloudProvider = "gcp"
	ProviderAzure CloudProvider = "azure"
	ProviderOther CloudProvider = "other"
)

// DecisionAction represents the recommended action for a decision
type DecisionAction string

const (
	ActionArchive   DecisionAction = "archive"
	ActionDelete    DecisionAction = "delete"
	ActionDownsize  DecisionAction = "downsize"
	ActionRightsize DecisionAction = "rightsize"
	ActionMigrate   DecisionAction = "migrate"
	ActionReview    DecisionAction = "review"
	ActionNone      DecisionAction = "none"
)

// WebhookStatus represents the aggregate delivery state of a decision's webhook
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookDelivered WebhookStatus = "delivered"
	WebhookFailed    WebhookStatus = "failed"
	WebhookRetrying  WebhookStatus = "retrying"
)

// MetadataRecord represents the attribute/tag bundle collected for a discovered resource.
// Produced by the external ingestion layer and consumed read-only by the pipeline.
type MetadataRecord struct {
	ID                int64                  `json:"id"`
	EntityType        string                 `json:"entity_type"`
	EntityID          string                 `json:"entity_id"`
	Provider          CloudProvider          `json:"provider"`
	Region            string                 `json:"region,omitempty"`
	AccountID         string                 `json:"account_id,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
	Tags              map[string]string      `json:"tags,omitempty"`
	ResourceUpdatedAt *time.Time             `json:"resource_updated_at,omitempty"`
	DiscoveredAt      time.Time              `json:"discovered_at"`
}

// ClassificationResult represents the current classification of a metadata record.
// Exactly one result exists per record; reclassification updates it in place.
type ClassificationResult struct {
	ID               int64                  `json:"id"`
	MetadataRecordID int64                  `json:"metadata_record_id"`
	Category         ClassificationCategory `json:"category"`
	Confidence       float64                `json:"confidence"` // 0-1
	Method           ClassificationMethod   `json:"method"`
	ModelVersion     string                 `json:"model_version,omitempty"`
	RulesApplied     []string               `json:"rules_applied,omitempty"`
	Explanation      string                 `json:"explanation,omitempty"`
	IsManual         bool                   `json:"is_manual"`
	ManualCategory   ClassificationCategory `json:"manual_category,omitempty"`
	ManualBy         string                 `json:"manual_by,omitempty"`
	ManualAt         *time.Time             `json:"manual_at,omitempty"`
	ManualReason     string                 `json:"manual_reason,omitempty"`
	ClassifiedAt     time.Time              `json:"classified_at"`
	ReclassifiedAt   *time.Time             `json:"reclassified_at,omitempty"`
}

// CostRecord represents a single billing line item, optionally linked to a metadata record
type CostRecord struct {
	ID                int64                  `json:"id"`
	MetadataRecordID  *int64                 `json:"metadata_record_id,omitempty"`
	ResourceID        string                 `json:"resource_id"`
	Provider          CloudProvider          `json:"provider"`
	ServiceType       string                 `json:"service_type"`
	Region            string                 `json:"region,omitempty"`
	CostAmount        decimal.Decimal        `json:"cost_amount"`
	Currency          string                 `json:"currency"`
	UsageQuantity     decimal.Decimal        `json:"usage_quantity"`
	UsageUnit         string                 `json:"usage_unit"` // 'GB-Month', 'Hours', 'Requests', etc.
	PeriodStart       time.Time              `json:"period_start"`
	PeriodEnd         time.Time              `json:"period_end"` // half-open [start, end)
	BillingLineItemID string                 `json:"billing_line_item_id,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
	Tags              map[string]string      `json:"tags,omitempty"`
	Description       string                 `json:"description,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// UnitCost returns the cost per unit of usage. A zero usage quantity yields
// an explicit zero rather than an error.
func (c *CostRecord) UnitCost() decimal.Decimal {
	if c.UsageQuantity.IsPositive() {
		return c.CostAmount.Div(c.UsageQuantity)
	}
	return decimal.Zero
}

// Benchmark represents a reference cost-per-unit range for a
// (service type, provider, region) combination
type Benchmark struct {
	ID             int64           `json:"id"`
	OwnerID        *int64          `json:"owner_id,omitempty"` // nil for global benchmarks
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ServiceType    string          `json:"service_type"`
	Provider       CloudProvider   `json:"provider"`
	Region         string          `json:"region,omitempty"` // empty applies to all regions
	AvgCostPerUnit decimal.Decimal `json:"avg_cost_per_unit"`
	MinCostPerUnit decimal.Decimal `json:"min_cost_per_unit"`
	MaxCostPerUnit decimal.Decimal `json:"max_cost_per_unit"`
	Unit           string          `json:"unit"`
	Source         string          `json:"source,omitempty"` // 'industry_report', 'historical_data', 'provider_pricing'
	ValidFrom      time.Time       `json:"valid_from"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"` // nil means open-ended
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ValidAt reports whether the benchmark's validity window covers the given time
func (b *Benchmark) ValidAt(t time.Time) bool {
	if t.Before(b.ValidFrom) {
		return false
	}
	if b.ValidUntil != nil && !t.Before(*b.ValidUntil) {
		return false
	}
	return true
}

// Specificity ranks a benchmark for lookup resolution. Owner-specific
// benchmarks win over global ones, region-specific over region-agnostic.
func (b *Benchmark) Specificity() int {
	score := 0
	if b.OwnerID != nil {
		score += 2
	}
	if b.Region != "" {
		score++
	}
	return score
}

// Decision represents a generated or manual cost optimization recommendation
type Decision struct {
	ID                       int64                  `json:"id"`
	CostRecordID             *int64                 `json:"cost_record_id,omitempty"`
	Recommendation           string                 `json:"recommendation"`
	ActionType               DecisionAction         `json:"action_type"`
	Confidence               float64                `json:"confidence"` // 0-1
	EstimatedSavingsMonthly  *decimal.Decimal       `json:"estimated_savings_monthly,omitempty"`
	EstimatedCostToImplement *decimal.Decimal       `json:"estimated_cost_to_implement,omitempty"`
	Currency                 string                 `json:"currency"`
	RuleID                   string                 `json:"rule_id,omitempty"`
	RuleExplanation          string                 `json:"rule_explanation,omitempty"`
	IsAutomated              bool                   `json:"is_automated"`
	ApprovedAt               *time.Time             `json:"approved_at,omitempty"`
	ApprovedBy               string                 `json:"approved_by,omitempty"`
	ExecutedAt               *time.Time             `json:"executed_at,omitempty"`
	ExecutionResult          string                 `json:"execution_result,omitempty"`
	WebhookURL               string                 `json:"webhook_url,omitempty"`
	WebhookSecret            string                 `json:"-"`
	WebhookStatus            WebhookStatus          `json:"webhook_status"`
	WebhookAttempts          int                    `json:"webhook_attempts"`
	WebhookLastAttempt       *time.Time             `json:"webhook_last_attempt,omitempty"`
	WebhookError             string                 `json:"webhook_error,omitempty"`
	Context                  map[string]interface{} `json:"context,omitempty"`
	DismissedAt              *time.Time             `json:"dismissed_at,omitempty"`
	DismissedBy              string                 `json:"dismissed_by,omitempty"`
	DismissReason            string                 `json:"dismiss_reason,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
}

// Status returns the lifecycle state of the decision:
// pending, approved, executed, or dismissed.
func (d *Decision) Status() string {
	switch {
	case d.DismissedAt != nil:
		return "dismissed"
	case d.ExecutedAt != nil:
		return "executed"
	case d.ApprovedAt != nil:
		return "approved"
	default:
		return "pending"
	}
}

// Per-attempt webhook log outcomes
const (
	WebhookLogStatusSuccess = "success"
	WebhookLogStatusFailure = "failure"
)

// WebhookLog represents one immutable delivery attempt for a decision's webhook
type WebhookLog struct {
	ID             int64      `json:"id"`
	DecisionID     int64      `json:"decision_id"`
	AttemptNumber  int        `json:"attempt_number"`
	Status         string     `json:"status"` // 'success', 'failure'
	StatusCode     *int       `json:"status_code,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RequestPayload string     `json:"request_payload"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
}
