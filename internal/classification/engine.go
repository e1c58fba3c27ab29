package classification

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/rules"
)

// ModelVersion identifies the rule set revision stamped on results
const ModelVersion = "1.0.0"

// NoMatchExplanation is returned when no classification rule matches
const NoMatchExplanation = "No matching classification rules found"

// Rule represents a single declarative classification rule. Conditions are
// AND-combined; AnyConditions, when present, require at least one match.
type Rule struct {
	Name          string
	Category      models.ClassificationCategory
	Confidence    float64
	Conditions    []rules.Condition
	AnyConditions []rules.Condition
	Explanation   string
}

// Matches reports whether the rule matches the evaluation context.
// Condition evaluation failures count as non-matches, never errors.
func (r *Rule) Matches(ctx map[string]interface{}) bool {
	return rules.All(r.Conditions, ctx) && rules.Any(r.AnyConditions, ctx)
}

// Result represents the outcome of classifying a single metadata record
type Result struct {
	Category     models.ClassificationCategory `json:"category"`
	Confidence   float64                       `json:"confidence"`
	Method       models.ClassificationMethod   `json:"method"`
	ModelVersion string                        `json:"model_version"`
	RulesApplied []string                      `json:"rules_applied"`
	Explanation  string                        `json:"explanation"`
}

// Scorer is the extension point for a statistical or ML classifier to be
// combined with rule output. No scorer ships with the engine; registration
// is a contract for future hybrid classification.
type Scorer interface {
	Score(ctx map[string]interface{}) (models.ClassificationCategory, float64, error)
}

// Engine classifies resource metadata against an ordered rule table.
// The rule table is immutable after construction, so a single engine is
// safe for concurrent use across goroutines.
type Engine struct {
	rules   []Rule
	scorers map[string]Scorer
	now     func() time.Time
}

// NewEngine creates a classification engine with the default rule set
func NewEngine() *Engine {
	return NewEngineWithRules(DefaultRules())
}

// NewEngineWithRules creates a classification engine with a custom rule set
func NewEngineWithRules(ruleSet []Rule) *Engine {
	return &Engine{
		rules:   ruleSet,
		scorers: make(map[string]Scorer),
		now:     time.Now,
	}
}

// RegisterScorer registers an ML scorer for future hybrid classification.
// Until a combination strategy ships, classification stays purely rule-based.
func (e *Engine) RegisterScorer(name string, scorer Scorer) {
	e.scorers[name] = scorer
}

// Classify evaluates a metadata record against every rule. All rules run;
// among matches the highest confidence wins, with declaration order breaking
// exact ties. No match yields CategoryUnknown with zero confidence.
func (e *Engine) Classify(record *models.MetadataRecord) Result {
	return e.ClassifyContext(e.BuildContext(record))
}

// ClassifyContext evaluates a prebuilt context map
func (e *Engine) ClassifyContext(ctx map[string]interface{}) Result {
	var matched []string
	var best *Rule

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(ctx) {
			continue
		}
		matched = append(matched, rule.Name)
		if best == nil || rule.Confidence > best.Confidence {
			best = rule
		}
	}

	if best == nil {
		return Result{
			Category:     models.CategoryUnknown,
			Confidence:   0.0,
			Method:       models.MethodRuleBased,
			ModelVersion: ModelVersion,
			RulesApplied: nil,
			Explanation:  NoMatchExplanation,
		}
	}

	return Result{
		Category:     best.Category,
		Confidence:   best.Confidence,
		Method:       models.MethodRuleBased,
		ModelVersion: ModelVersion,
		RulesApplied: matched,
		Explanation:  best.Explanation,
	}
}

// ClassifyBatch classifies records independently; no shared state beyond
// the immutable rule table
func (e *Engine) ClassifyBatch(records []*models.MetadataRecord) []Result {
	results := make([]Result, len(records))
	for i, record := range records {
		results[i] = e.Classify(record)
	}
	return results
}

// BuildContext flattens a metadata record into the evaluation context:
// identity fields, coerced attributes, lowercased tags under "tag.<key>",
// a concatenated "tags_text" for keyword scans, and derived staleness fields.
func (e *Engine) BuildContext(record *models.MetadataRecord) map[string]interface{} {
	ctx := map[string]interface{}{
		"entity_type": record.EntityType,
		"entity_id":   record.EntityID,
		"provider":    string(record.Provider),
		"region":      record.Region,
		"account_id":  record.AccountID,
		// numeric attributes default to zero when ingestion omitted them
		"object_count":  0,
		"running_hours": 0,
		"size_gb":       0,
	}

	for key, value := range record.Attributes {
		ctx[key] = coerceNumeric(value)
	}

	var tagsText strings.Builder
	for key, value := range record.Tags {
		lowered := strings.ToLower(value)
		ctx["tag."+strings.ToLower(key)] = lowered
		fmt.Fprintf(&tagsText, "%s=%s;", strings.ToLower(key), lowered)
	}
	ctx["tags_text"] = tagsText.String()

	ctx["days_since_update"] = e.daysSinceUpdate(record)

	return ctx
}

// daysSinceUpdate falls back to discovery time when the resource has no
// recorded update timestamp; a missing timestamp counts as zero days
func (e *Engine) daysSinceUpdate(record *models.MetadataRecord) int {
	updated := record.ResourceUpdatedAt
	if updated == nil {
		if record.DiscoveredAt.IsZero() {
			return 0
		}
		t := record.DiscoveredAt
		updated = &t
	}

	days := int(e.now().UTC().Sub(updated.UTC()).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// coerceNumeric converts numeric strings so rule comparisons behave the
// same whether ingestion delivered "42" or 42
func coerceNumeric(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return value
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return value
}
