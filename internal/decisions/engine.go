package decisions

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/rules"
)

// Rule represents a declarative decision rule. Conditions are AND-combined;
// every matching rule yields one decision.
type Rule struct {
	ID                     string                `json:"id" yaml:"id" validate:"required"`
	Name                   string                `json:"name" yaml:"name" validate:"required"`
	Description            string                `json:"description,omitempty" yaml:"description"`
	Priority               int                   `json:"priority" yaml:"priority"`
	Conditions             []rules.Condition     `json:"conditions" yaml:"conditions" validate:"required,min=1,dive"`
	Action                 models.DecisionAction `json:"action" yaml:"action" validate:"required,oneof=archive delete downsize rightsize migrate review none"`
	RecommendationTemplate string                `json:"recommendation_template" yaml:"recommendation_template" validate:"required"`
	Confidence             float64               `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
	AutoExecute            bool                  `json:"auto_execute" yaml:"auto_execute"`
}

// Match represents one decision produced by a matched rule, before persistence
type Match struct {
	RuleID                   string                 `json:"rule_id"`
	RuleName                 string                 `json:"rule_name"`
	Priority                 int                    `json:"priority"`
	Action                   models.DecisionAction  `json:"action"`
	Recommendation           string                 `json:"recommendation"`
	Confidence               float64                `json:"confidence"`
	AutoExecute              bool                   `json:"auto_execute"`
	EstimatedSavingsMonthly  decimal.Decimal        `json:"estimated_savings_monthly"`
	EstimatedCostToImplement decimal.Decimal        `json:"estimated_cost_to_implement"`
	Context                  map[string]interface{} `json:"context"`
}

// SavingsEstimator estimates monthly savings for an action given the
// current monthly cost. The default is a deliberate heuristic, not a cost
// model, and is meant to be swapped out.
type SavingsEstimator func(action models.DecisionAction, monthlyCost decimal.Decimal) decimal.Decimal

// DefaultSavingsEstimator applies the standard heuristic: deletion and
// archival recover the full monthly cost, downsizing half, everything
// else a conservative fifth.
func DefaultSavingsEstimator(action models.DecisionAction, monthlyCost decimal.Decimal) decimal.Decimal {
	switch action {
	case models.ActionDelete, models.ActionArchive:
		return monthlyCost
	case models.ActionDownsize:
		return monthlyCost.Mul(decimal.NewFromFloat(0.5))
	default:
		return monthlyCost.Mul(decimal.NewFromFloat(0.2))
	}
}

// Engine evaluates cost records against the decision rule table.
// The table can be swapped at runtime (hot reload); evaluation itself is
// pure and safe to run concurrently.
type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	estimator SavingsEstimator
}

// NewEngine creates a decision engine with the default rule table
func NewEngine() *Engine {
	return NewEngineWithRules(DefaultRules())
}

// NewEngineWithRules creates a decision engine with a custom rule table
func NewEngineWithRules(ruleSet []Rule) *Engine {
	return &Engine{
		rules:     ruleSet,
		estimator: DefaultSavingsEstimator,
	}
}

// SetEstimator replaces the savings heuristic
func (e *Engine) SetEstimator(estimator SavingsEstimator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.estimator = estimator
}

// SetRules atomically replaces the rule table (used by hot reload)
func (e *Engine) SetRules(ruleSet []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = ruleSet
}

// Rules returns a copy of the current rule table
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate evaluates a cost record (and its classification, if any)
// against all rules and returns matches sorted by priority descending,
// declaration order preserved for equal priorities.
func (e *Engine) Evaluate(record *models.CostRecord, classification *models.ClassificationResult) []Match {
	return e.EvaluateWithComparison(record, classification, nil)
}

// EvaluateWithComparison additionally folds a benchmark comparison into the
// context so variance-based rules (cost spike detection) can fire.
func (e *Engine) EvaluateWithComparison(
	record *models.CostRecord,
	classification *models.ClassificationResult,
	comparison *cost.BenchmarkComparison,
) []Match {
	e.mu.RLock()
	ruleSet := e.rules
	estimator := e.estimator
	e.mu.RUnlock()

	ctx := BuildContext(record, classification, comparison)

	var matches []Match
	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rules.All(rule.Conditions, ctx) {
			continue
		}
		matches = append(matches, e.buildMatch(rule, ctx, record, estimator))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority > matches[j].Priority
	})

	return matches
}

// buildMatch materializes a decision draft from a matched rule
func (e *Engine) buildMatch(
	rule *Rule,
	ctx map[string]interface{},
	record *models.CostRecord,
	estimator SavingsEstimator,
) Match {
	savings := estimator(rule.Action, record.CostAmount)

	return Match{
		RuleID:                   rule.ID,
		RuleName:                 rule.Name,
		Priority:                 rule.Priority,
		Action:                   rule.Action,
		Recommendation:           renderTemplate(rule.RecommendationTemplate, ctx, savings),
		Confidence:               rule.Confidence,
		AutoExecute:              rule.AutoExecute,
		EstimatedSavingsMonthly:  savings,
		EstimatedCostToImplement: decimal.Zero, // most recommended actions are configuration changes
		Context:                  ctx,
	}
}

// BuildContext merges resource identity, cost figures, classification, and
// resource attributes into one evaluation context. Every well-known
// attribute has a defined default so a missing field evaluates
// predictably instead of erroring.
func BuildContext(
	record *models.CostRecord,
	classification *models.ClassificationResult,
	comparison *cost.BenchmarkComparison,
) map[string]interface{} {
	attrs := record.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	monthlyCost, _ := record.CostAmount.Float64()
	usageQuantity, _ := record.UsageQuantity.Float64()

	ctx := map[string]interface{}{
		// resource identification
		"resource_id":  record.ResourceID,
		"entity_type":  attrString(attrs, "entity_type", "unknown"),
		"service_type": record.ServiceType,
		"provider":     string(record.Provider),
		"region":       record.Region,

		// cost metrics
		"monthly_cost":   monthlyCost,
		"current_cost":   monthlyCost,
		"usage_quantity": usageQuantity,
		"usage_unit":     record.UsageUnit,

		// classification
		"classification_category":   "unknown",
		"classification_confidence": 0.0,

		// attributes with defaults
		"size_gb":             attrFloat(attrs, "size_gb", 0),
		"object_count":        attrFloat(attrs, "object_count", 0),
		"storage_class":       attrString(attrs, "storage_class", "STANDARD"),
		"avg_cpu_utilization": attrFloat(attrs, "avg_cpu_utilization", 0),
		"running_hours":       attrFloat(attrs, "running_hours", 0),
		"state":               attrString(attrs, "state", "unknown"),
		"days_stopped":        attrFloat(attrs, "days_stopped", 0),
		"max_connections":     attrFloat(attrs, "max_connections", 0),
		"avg_connections":     attrFloat(attrs, "avg_connections", 0),
		"is_read_replica":     attrBool(attrs, "is_read_replica"),
		"read_iops":           attrFloat(attrs, "read_iops", 0),
		"days_since_update":   attrFloat(attrs, "days_since_update", 0),
		"days_since_access":   attrFloat(attrs, "days_since_access", 0),
		"environment":         tagValue(record.Tags, "environment"),
	}

	if classification != nil {
		ctx["classification_category"] = string(classification.Category)
		ctx["classification_confidence"] = classification.Confidence
	}

	if comparison != nil && comparison.VariancePct != nil {
		variance, _ := comparison.VariancePct.Float64()
		ctx["cost_variance_pct"] = variance
	}

	return ctx
}

var templatePlaceholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// renderTemplate substitutes {placeholder} fields from the context plus
// derived formatting fields. A missing key substitutes "n/a" rather than
// failing the evaluation.
func renderTemplate(template string, ctx map[string]interface{}, savings decimal.Decimal) string {
	derived := map[string]string{
		"days":     formatValue(firstNonZero(ctx["days_since_update"], ctx["days_stopped"])),
		"cpu":      formatValue(ctx["avg_cpu_utilization"]),
		"variance": formatValue(ctx["cost_variance_pct"]),
		"max_conn": formatValue(ctx["max_connections"]),
		"avg_conn": formatValue(ctx["avg_connections"]),
		"savings":  savings.StringFixed(2),
		"cost":     formatValue(ctx["monthly_cost"]),
	}

	return templatePlaceholder.ReplaceAllStringFunc(template, func(placeholder string) string {
		key := placeholder[1 : len(placeholder)-1]
		if v, ok := derived[key]; ok {
			return v
		}
		if v, ok := ctx[key]; ok && v != nil {
			return formatValue(v)
		}
		return "n/a"
	})
}

// firstNonZero prefers the first value that coerces to a non-zero number
func firstNonZero(values ...interface{}) interface{} {
	for _, v := range values {
		if f, ok := rules.ToFloat(v); ok && f != 0 {
			return v
		}
	}
	if len(values) > 0 {
		return values[0]
	}
	return nil
}

// formatValue renders a context value for recommendation text: whole
// numbers without a fractional part, other floats with two decimals
func formatValue(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return "0"
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func attrString(attrs map[string]interface{}, key, fallback string) string {
	if v, ok := attrs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func attrFloat(attrs map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := attrs[key]; ok {
		if f, fok := rules.ToFloat(v); fok {
			return f
		}
	}
	return fallback
}

func attrBool(attrs map[string]interface{}, key string) bool {
	if v, ok := attrs[key].(bool); ok {
		return v
	}
	return false
}

// tagValue looks up a tag case-insensitively
func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
